package events

import (
	"context"
	"sync"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var _ interfaces.EventEmitter = (*Journal)(nil)

// Journal keeps emitted vault events in memory, oldest first. With a positive
// capacity the oldest entries are dropped once it is reached.
type Journal struct {
	mu       sync.RWMutex
	capacity int
	entries  []models.VaultEvent
}

func NewJournal(capacity int) *Journal {
	return &Journal{capacity: capacity}
}

func (j *Journal) EmitEvent(_ context.Context, event models.VaultEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, event)
	if j.capacity > 0 && len(j.entries) > j.capacity {
		j.entries = append(j.entries[:0:0], j.entries[len(j.entries)-j.capacity:]...)
	}
	return nil
}

// ByUser returns the user's events, newest first, at most limit of them
// (all when limit <= 0).
func (j *Journal) ByUser(user common.Address, limit int) []models.VaultEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []models.VaultEvent
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].User != user {
			continue
		}
		out = append(out, j.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ByTxHash returns the newest event produced by the given chain transaction
func (j *Journal) ByTxHash(txHash common.Hash) (models.VaultEvent, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if txHash == (common.Hash{}) {
		return models.VaultEvent{}, false
	}
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].TxHash == txHash {
			return j.entries[i], true
		}
	}
	return models.VaultEvent{}, false
}

