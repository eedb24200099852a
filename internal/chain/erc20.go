package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"custody-vault/internal/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var _ interfaces.Asset = (*ERC20)(nil)

// ErrTransferRejected is returned when a token reports a failed transfer by
// returning false
var ErrTransferRejected = errors.New("token rejected transfer")

// ERC20 adapts a deployed token contract to the vault Asset capability set.
// Deposits are pulled with transferFrom, so users must approve the vault
// account beforehand.
type ERC20 struct {
	contract *boundContract
	tx       *Transactor

	mu       sync.Mutex
	decimals *uint8
}

func NewERC20(token common.Address, caller ethereum.ContractCaller, tx *Transactor) *ERC20 {
	return &ERC20{
		contract: &boundContract{address: token, abi: ERC20ABI, caller: caller},
		tx:       tx,
	}
}

// Decimals reads the token precision once and caches it
func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.decimals != nil {
		return *e.decimals, nil
	}

	values, err := e.contract.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}

	e.decimals = &d
	return d, nil
}

// TransferIn pulls amount from an approved owner into the vault account. The
// call is simulated first so a token that reports failure by returning false
// instead of reverting is caught before anything is sent.
func (e *ERC20) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	if e.tx == nil {
		return errors.New("token transfers need a vault transactor")
	}
	return e.send(ctx, "transferFrom", from, e.tx.Address(), amount)
}

// TransferOut sends amount from the vault account to the recipient
func (e *ERC20) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	if e.tx == nil {
		return errors.New("token transfers need a vault transactor")
	}
	return e.send(ctx, "transfer", to, amount)
}

func (e *ERC20) send(ctx context.Context, method string, args ...interface{}) error {
	data, err := e.contract.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	if err := e.simulate(ctx, method, data); err != nil {
		return err
	}
	_, err = e.tx.Send(ctx, e.contract.address, nil, data)
	return err
}

// simulate runs the transfer as a call from the vault account. Tokens that
// return nothing are accepted; a decoded false aborts the transfer.
func (e *ERC20) simulate(ctx context.Context, method string, data []byte) error {
	to := e.contract.address
	output, err := e.contract.caller.CallContract(ctx, ethereum.CallMsg{
		From: e.tx.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("%s on %s would fail: %w", method, to.Hex(), err)
	}
	if len(output) == 0 {
		return nil
	}

	values, err := e.contract.abi.Unpack(method, output)
	if err != nil {
		return fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if ok, _ := values[0].(bool); !ok {
		return fmt.Errorf("%w: %s on %s", ErrTransferRejected, method, to.Hex())
	}
	return nil
}
