// Package ledger is the authoritative per-user, per-asset custody state.
//
// Every mutation goes through a Tx so that a caller can apply a tentative
// change, perform an external side effect and then either Commit or Rollback.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNegativeBalance is returned by Debit when the held amount would drop
	// below zero
	ErrNegativeBalance = errors.New("debit exceeds held amount")
	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("ledger transaction already finished")
	// ErrAlreadyProcessed is returned when a chain transaction has already
	// been applied to the ledger
	ErrAlreadyProcessed = errors.New("chain transaction already processed")
)

// Store persists account records.
type Store interface {
	// Get returns a snapshot of the record, or a zero record if none exists
	Get(ctx context.Context, key models.AccountKey) (models.AccountAssetRecord, error)

	// Begin opens a transaction whose writes are invisible until Commit
	Begin(ctx context.Context) (StoreTx, error)

	// Cursor returns the last block a named watcher finished, if any
	Cursor(ctx context.Context, name string) (uint64, bool, error)

	// SaveCursor records the last block a named watcher finished
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// StoreTx is an all-or-nothing set of record reads and writes.
type StoreTx interface {
	Get(ctx context.Context, key models.AccountKey) (models.AccountAssetRecord, error)
	Put(ctx context.Context, key models.AccountKey, record models.AccountAssetRecord) error
	// MarkProcessed records a chain transaction hash and reports false if it
	// was already recorded
	MarkProcessed(ctx context.Context, txHash common.Hash) (bool, error)
	Commit() error
	Rollback() error
}

// Ledger applies the custody bookkeeping rules on top of a Store.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Read returns a snapshot of the (user, asset) record without side effects.
func (l *Ledger) Read(ctx context.Context, user, asset common.Address) (models.AccountAssetRecord, error) {
	rec, err := l.store.Get(ctx, models.AccountKey{User: user, Asset: asset})
	if err != nil {
		return models.AccountAssetRecord{}, fmt.Errorf("failed to read account record: %w", err)
	}
	return rec.Clone(), nil
}

// Cursor returns the last block the named watcher finished.
func (l *Ledger) Cursor(ctx context.Context, name string) (uint64, bool, error) {
	block, ok, err := l.store.Cursor(ctx, name)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read watcher cursor: %w", err)
	}
	return block, ok, nil
}

// SaveCursor records the last block the named watcher finished.
func (l *Ledger) SaveCursor(ctx context.Context, name string, block uint64) error {
	if err := l.store.SaveCursor(ctx, name, block); err != nil {
		return fmt.Errorf("failed to save watcher cursor: %w", err)
	}
	return nil
}

// MarkProcessed records a chain call on its own, for calls that were decided
// without changing any balance.
func (l *Ledger) MarkProcessed(ctx context.Context, txHash common.Hash) error {
	tx, err := l.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.MarkProcessed(ctx, txHash); err != nil {
		return err
	}
	return tx.Commit()
}

// Begin opens a ledger transaction.
func (l *Ledger) Begin(ctx context.Context) (*Tx, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is a pending set of ledger mutations.
type Tx struct {
	tx   StoreTx
	done bool
}

// Read returns the record as seen by this transaction.
func (t *Tx) Read(ctx context.Context, user, asset common.Address) (models.AccountAssetRecord, error) {
	if t.done {
		return models.AccountAssetRecord{}, ErrTxDone
	}
	rec, err := t.tx.Get(ctx, models.AccountKey{User: user, Asset: asset})
	if err != nil {
		return models.AccountAssetRecord{}, fmt.Errorf("failed to read account record: %w", err)
	}
	return rec.Clone(), nil
}

// Credit adds rawAmount to the held balance and usdAmount to the lifetime
// deposit total, and counts one deposit.
func (t *Tx) Credit(ctx context.Context, user, asset common.Address, rawAmount, usdAmount *big.Int) error {
	rec, err := t.Read(ctx, user, asset)
	if err != nil {
		return err
	}

	rec.HeldAmount.Add(rec.HeldAmount, models.AmountOrZero(rawAmount))
	rec.CumulativeDepositUSD.Add(rec.CumulativeDepositUSD, models.AmountOrZero(usdAmount))
	rec.DepositCount++

	return t.put(ctx, user, asset, rec)
}

// Debit removes rawAmount from the held balance and counts one withdrawal.
// The lifetime deposit total is historical and is left untouched; usdAmount
// is accepted for symmetry with Credit.
func (t *Tx) Debit(ctx context.Context, user, asset common.Address, rawAmount, _ *big.Int) error {
	rec, err := t.Read(ctx, user, asset)
	if err != nil {
		return err
	}

	raw := models.AmountOrZero(rawAmount)
	if rec.HeldAmount.Cmp(raw) < 0 {
		return fmt.Errorf("%w: held %s, debit %s", ErrNegativeBalance, rec.HeldAmount, raw)
	}
	rec.HeldAmount.Sub(rec.HeldAmount, raw)
	rec.WithdrawCount++

	return t.put(ctx, user, asset, rec)
}

// MarkProcessed ties the transaction to the chain call it applies, so the
// call commits at most once. Calls without a hash are not tracked.
func (t *Tx) MarkProcessed(ctx context.Context, txHash common.Hash) error {
	if t.done {
		return ErrTxDone
	}
	if txHash == (common.Hash{}) {
		return nil
	}
	inserted, err := t.tx.MarkProcessed(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to record processed call: %w", err)
	}
	if !inserted {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, txHash.Hex())
	}
	return nil
}

func (t *Tx) put(ctx context.Context, user, asset common.Address, rec models.AccountAssetRecord) error {
	if err := t.tx.Put(ctx, models.AccountKey{User: user, Asset: asset}, rec); err != nil {
		return fmt.Errorf("failed to write account record: %w", err)
	}
	return nil
}

// Commit makes every mutation of the transaction visible.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// Rollback discards every mutation. It is a no-op once the transaction has
// been committed or rolled back, so it is safe to defer.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
