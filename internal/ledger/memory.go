package ledger

import (
	"context"
	"sync"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[models.AccountKey]models.AccountAssetRecord
	processed map[common.Hash]struct{}
	cursors   map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[models.AccountKey]models.AccountAssetRecord),
		processed: make(map[common.Hash]struct{}),
		cursors:   make(map[string]uint64),
	}
}

func (s *MemoryStore) Get(_ context.Context, key models.AccountKey) (models.AccountAssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return models.NewAccountAssetRecord(), nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Begin(_ context.Context) (StoreTx, error) {
	return &memoryTx{
		store:  s,
		writes: make(map[models.AccountKey]models.AccountAssetRecord),
		marks:  make(map[common.Hash]struct{}),
	}, nil
}

func (s *MemoryStore) Cursor(_ context.Context, name string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[name]
	return block, ok, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, name string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = block
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	writes map[models.AccountKey]models.AccountAssetRecord
	marks  map[common.Hash]struct{}
}

func (t *memoryTx) Get(ctx context.Context, key models.AccountKey) (models.AccountAssetRecord, error) {
	if rec, ok := t.writes[key]; ok {
		return rec.Clone(), nil
	}
	return t.store.Get(ctx, key)
}

func (t *memoryTx) Put(_ context.Context, key models.AccountKey, record models.AccountAssetRecord) error {
	t.writes[key] = record.Clone()
	return nil
}

func (t *memoryTx) MarkProcessed(_ context.Context, txHash common.Hash) (bool, error) {
	if _, ok := t.marks[txHash]; ok {
		return false, nil
	}
	t.store.mu.RLock()
	_, ok := t.store.processed[txHash]
	t.store.mu.RUnlock()
	if ok {
		return false, nil
	}
	t.marks[txHash] = struct{}{}
	return true, nil
}

func (t *memoryTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for key, rec := range t.writes {
		t.store.records[key] = rec
	}
	for hash := range t.marks {
		t.store.processed[hash] = struct{}{}
	}
	t.writes = nil
	t.marks = nil
	return nil
}

func (t *memoryTx) Rollback() error {
	t.writes = nil
	t.marks = nil
	return nil
}
