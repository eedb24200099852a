package access

import (
	"context"
	"sync"

	"custody-vault/internal/interfaces"

	"github.com/ethereum/go-ethereum/common"
)

var _ interfaces.AccessControl = (*StaticRoles)(nil)

// StaticRoles is an in-process role table, populated from configuration
type StaticRoles struct {
	mu    sync.RWMutex
	roles map[string]map[common.Address]bool
}

func NewStaticRoles() *StaticRoles {
	return &StaticRoles{roles: make(map[string]map[common.Address]bool)}
}

// Grant gives every identity in ids the named capability
func (s *StaticRoles) Grant(capability string, ids ...common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.roles[capability]
	if !ok {
		members = make(map[common.Address]bool)
		s.roles[capability] = members
	}
	for _, id := range ids {
		members[id] = true
	}
}

func (s *StaticRoles) HasCapability(_ context.Context, identity common.Address, capability string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roles[capability][identity], nil
}
