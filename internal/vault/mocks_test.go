package vault_test

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

type mockPriceSource struct {
	price models.Price
	err   error
}

func (m *mockPriceSource) LatestPrice(context.Context) (models.Price, error) {
	return m.price, m.err
}

// mockToken keeps custody balances in memory. Hooks run before the transfer
// takes effect so tests can fail it or call back into the vault.
type mockToken struct {
	decimals    uint8
	decimalsErr error
	transferIn  func(from common.Address, amount *big.Int) error
	transferOut func(to common.Address, amount *big.Int) error

	mu       sync.Mutex
	custody  *big.Int
	received map[common.Address]*big.Int
}

func newMockToken(decimals uint8) *mockToken {
	return &mockToken{
		decimals: decimals,
		custody:  new(big.Int),
		received: make(map[common.Address]*big.Int),
	}
}

func (m *mockToken) Decimals(context.Context) (uint8, error) {
	return m.decimals, m.decimalsErr
}

func (m *mockToken) TransferIn(_ context.Context, from common.Address, amount *big.Int) error {
	if m.transferIn != nil {
		if err := m.transferIn(from, amount); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custody.Add(m.custody, amount)
	return nil
}

func (m *mockToken) TransferOut(_ context.Context, to common.Address, amount *big.Int) error {
	if m.transferOut != nil {
		if err := m.transferOut(to, amount); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custody.Sub(m.custody, amount)
	if m.received[to] == nil {
		m.received[to] = new(big.Int)
	}
	m.received[to].Add(m.received[to], amount)
	return nil
}

func (m *mockToken) Custody() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.custody)
}

type mockRegistry map[common.Address]interfaces.Asset

func (m mockRegistry) Asset(_ context.Context, token common.Address) (interfaces.Asset, error) {
	a, ok := m[token]
	if !ok {
		return nil, errors.New("unsupported token")
	}
	return a, nil
}

type mockNative struct {
	send func(to common.Address, amount *big.Int) error

	mu   sync.Mutex
	sent map[common.Address]*big.Int
}

func (m *mockNative) SendNative(_ context.Context, to common.Address, amount *big.Int) error {
	if m.send != nil {
		if err := m.send(to, amount); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[common.Address]*big.Int)
	}
	if m.sent[to] == nil {
		m.sent[to] = new(big.Int)
	}
	m.sent[to].Add(m.sent[to], amount)
	return nil
}

func (m *mockNative) Sent(to common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.AmountOrZero(m.sent[to])
}

type mockAccess struct {
	admins map[common.Address]bool
	err    error
}

func (m *mockAccess) HasCapability(_ context.Context, identity common.Address, _ string) (bool, error) {
	return m.admins[identity], m.err
}

// MockEventEmitter is a mock implementation of EventEmitter for testing
type MockEventEmitter struct {
	emittedEvents []models.VaultEvent
	emitError     error
	mu            sync.Mutex
}

func (m *MockEventEmitter) EmitEvent(_ context.Context, event models.VaultEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitError != nil {
		return m.emitError
	}
	m.emittedEvents = append(m.emittedEvents, event)
	return nil
}

func (m *MockEventEmitter) GetEmittedEvents() []models.VaultEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]models.VaultEvent, len(m.emittedEvents))
	copy(events, m.emittedEvents)
	return events
}

type mockRecorder struct {
	mu         sync.Mutex
	operations map[string]int
	rejections map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		operations: make(map[string]int),
		rejections: make(map[string]int),
	}
}

func (m *mockRecorder) ObserveOperation(op string, _ common.Address, _ *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op]++
}

func (m *mockRecorder) ObserveRejection(op string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[op+"/"+reason]++
}
