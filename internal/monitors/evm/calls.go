package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const vaultABIJSON = `[
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"adminWithdraw","stateMutability":"nonpayable","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"destination","type":"address"}
	],"outputs":[]}
]`

// VaultABI describes the calldata accepted by the vault account
var VaultABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid vault ABI: %v", err))
	}
	return parsed
}()

// Operation names reported by Dispatch
const (
	OpNone          = ""
	OpReceive       = "receive"
	OpDeposit       = "deposit"
	OpWithdraw      = "withdraw"
	OpAdminWithdraw = "admin_withdraw"
)

var (
	// ErrUnexpectedValue is returned when value is attached to a non-payable call
	ErrUnexpectedValue = errors.New("value sent to non-payable vault function")
	// ErrMalformedCall is returned when calldata matches a vault selector but
	// its arguments cannot be decoded
	ErrMalformedCall = errors.New("malformed vault calldata")
)

// VaultHandler executes decoded vault operations
type VaultHandler interface {
	Deposit(ctx context.Context, call models.Call, asset common.Address, amount *big.Int) error
	Receive(ctx context.Context, call models.Call) error
	Withdraw(ctx context.Context, call models.Call, asset common.Address, amount *big.Int) error
	AdminWithdraw(ctx context.Context, call models.Call, asset common.Address, amount *big.Int, destination common.Address) error
}

// Dispatch decodes the calldata of a transaction sent to the vault and runs
// the matching operation. Value sent with empty or unrecognised calldata is a
// plain receive. Transactions that carry neither value nor a known call are
// ignored and reported as OpNone.
func Dispatch(ctx context.Context, handler VaultHandler, call models.Call, data []byte) (string, error) {
	hasValue := call.AttachedValue().Sign() > 0

	method := lookupMethod(data)
	if method == nil {
		if !hasValue {
			return OpNone, nil
		}
		return OpReceive, handler.Receive(ctx, call)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return method.Name, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}

	switch method.Name {
	case "deposit":
		return OpDeposit, handler.Deposit(ctx, call, args[0].(common.Address), args[1].(*big.Int))
	case "withdraw":
		if hasValue {
			return OpWithdraw, ErrUnexpectedValue
		}
		return OpWithdraw, handler.Withdraw(ctx, call, args[0].(common.Address), args[1].(*big.Int))
	case "adminWithdraw":
		if hasValue {
			return OpAdminWithdraw, ErrUnexpectedValue
		}
		return OpAdminWithdraw, handler.AdminWithdraw(ctx, call, args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address))
	}
	return OpNone, nil
}

func lookupMethod(data []byte) *abi.Method {
	if len(data) < 4 {
		return nil
	}
	for _, method := range VaultABI.Methods {
		if bytes.Equal(method.ID, data[:4]) {
			m := method
			return &m
		}
	}
	return nil
}
