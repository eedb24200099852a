package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNativeNotToken  = errors.New("native asset has no token contract")
	ErrTokenNotAllowed = errors.New("token is not on the allowlist")
)

var _ interfaces.AssetRegistry = (*Registry)(nil)

// Registry hands out one ERC20 adapter per token address. When an allowlist
// is configured, tokens outside it are refused.
type Registry struct {
	caller  ethereum.ContractCaller
	tx      *Transactor
	allowed map[common.Address]bool

	mu     sync.Mutex
	tokens map[common.Address]*ERC20
}

func NewRegistry(caller ethereum.ContractCaller, tx *Transactor, allowlist []common.Address) *Registry {
	var allowed map[common.Address]bool
	if len(allowlist) > 0 {
		allowed = make(map[common.Address]bool, len(allowlist))
		for _, token := range allowlist {
			allowed[token] = true
		}
	}

	return &Registry{
		caller:  caller,
		tx:      tx,
		allowed: allowed,
		tokens:  make(map[common.Address]*ERC20),
	}
}

func (r *Registry) Asset(_ context.Context, token common.Address) (interfaces.Asset, error) {
	if models.IsNative(token) {
		return nil, ErrNativeNotToken
	}
	if r.allowed != nil && !r.allowed[token] {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotAllowed, token.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if asset, ok := r.tokens[token]; ok {
		return asset, nil
	}
	asset := NewERC20(token, r.caller, r.tx)
	r.tokens[token] = asset
	return asset, nil
}
