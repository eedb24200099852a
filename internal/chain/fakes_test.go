package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeCaller answers contract reads from a per-method handler table
type fakeCaller struct {
	abi      abi.ABI
	handlers map[string]func(args []interface{}) ([]byte, error)
	calls    map[string]int
	lastFrom common.Address
}

func newFakeCaller(contractABI abi.ABI) *fakeCaller {
	return &fakeCaller{
		abi:      contractABI,
		handlers: make(map[string]func(args []interface{}) ([]byte, error)),
		calls:    make(map[string]int),
	}
}

func (f *fakeCaller) returns(method string, values ...interface{}) {
	f.handlers[method] = func([]interface{}) ([]byte, error) {
		return f.abi.Methods[method].Outputs.Pack(values...)
	}
}

// returnsNothing makes method succeed with empty return data, as tokens that
// predate the ERC-20 bool result do
func (f *fakeCaller) returnsNothing(method string) {
	f.handlers[method] = func([]interface{}) ([]byte, error) {
		return nil, nil
	}
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, method := range f.abi.Methods {
		if len(call.Data) < 4 || !bytes.Equal(call.Data[:4], method.ID) {
			continue
		}
		f.calls[name]++
		f.lastFrom = call.From
		handler, ok := f.handlers[name]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		return handler(args)
	}
	return nil, errors.New("unknown selector")
}

// fakeBackend accepts every transaction and mines it on the first receipt poll
type fakeBackend struct {
	mu           sync.Mutex
	nonce        uint64
	sent         []*types.Transaction
	status       uint64
	pendingPolls int
	sendErr      error
	neverMined   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.neverMined {
		return nil, ethereum.NotFound
	}
	if f.pendingPolls > 0 {
		f.pendingPolls--
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return &types.Receipt{Status: f.status, TxHash: hash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}
