package evm

import (
	"context"
	"math/big"
	"sync"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type handledCall struct {
	op          string
	call        models.Call
	asset       common.Address
	amount      *big.Int
	destination common.Address
}

// recordingHandler records every vault operation it is asked to run
type recordingHandler struct {
	mu    sync.Mutex
	calls []handledCall
	err   error
}

func (r *recordingHandler) record(c handledCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

func (r *recordingHandler) Deposit(_ context.Context, call models.Call, asset common.Address, amount *big.Int) error {
	return r.record(handledCall{op: OpDeposit, call: call, asset: asset, amount: amount})
}

func (r *recordingHandler) Receive(_ context.Context, call models.Call) error {
	return r.record(handledCall{op: OpReceive, call: call, asset: models.NativeAsset, amount: call.AttachedValue()})
}

func (r *recordingHandler) Withdraw(_ context.Context, call models.Call, asset common.Address, amount *big.Int) error {
	return r.record(handledCall{op: OpWithdraw, call: call, asset: asset, amount: amount})
}

func (r *recordingHandler) AdminWithdraw(_ context.Context, call models.Call, asset common.Address, amount *big.Int, destination common.Address) error {
	return r.record(handledCall{op: OpAdminWithdraw, call: call, asset: asset, amount: amount, destination: destination})
}

func (r *recordingHandler) handled() []handledCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]handledCall(nil), r.calls...)
}

// fakeChain serves headers and receipts from memory
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	blocks   map[uint64]*types.Block
	failed   map[common.Hash]bool
	fetched    []uint64
	headErr    error
	blockErr   error
	receiptErr error
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{
		head:   head,
		blocks: make(map[uint64]*types.Block),
		failed: make(map[common.Hash]bool),
	}
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) BlockByNumber(_ context.Context, number uint64) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	f.fetched = append(f.fetched, number)
	if b, ok := f.blocks[number]; ok {
		return b, nil
	}
	return types.NewBlockWithHeader(&types.Header{Number: new(big.Int).SetUint64(number)}), nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	status := types.ReceiptStatusSuccessful
	if f.failed[hash] {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{TxHash: hash, Status: status}, nil
}

func (f *fakeChain) addBlock(number uint64, txs ...*types.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(number)}
	f.blocks[number] = types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
}

func (f *fakeChain) setReceiptErr(err error) {
	f.mu.Lock()
	f.receiptErr = err
	f.mu.Unlock()
}

func (f *fakeChain) setHead(head uint64) {
	f.mu.Lock()
	f.head = head
	f.mu.Unlock()
}

func (f *fakeChain) fetchedBlocks() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.fetched...)
}

// memoryCallStore keeps the watcher cursor and decided calls in memory
type memoryCallStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
	marked  map[common.Hash]bool
}

func newMemoryCallStore() *memoryCallStore {
	return &memoryCallStore{
		cursors: make(map[string]uint64),
		marked:  make(map[common.Hash]bool),
	}
}

func (m *memoryCallStore) Cursor(_ context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.cursors[name]
	return block, ok, nil
}

func (m *memoryCallStore) SaveCursor(_ context.Context, name string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = block
	return nil
}

func (m *memoryCallStore) MarkProcessed(_ context.Context, txHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[txHash] = true
	return nil
}

func (m *memoryCallStore) isMarked(txHash common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked[txHash]
}
