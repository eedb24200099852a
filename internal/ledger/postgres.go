package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var _ Store = (*PostgresStore)(nil)

const (
	selectRecordQuery = `
		SELECT held_amount::TEXT, cumulative_deposit_usd::TEXT, deposit_count, withdraw_count
		FROM account_assets
		WHERE user_address = $1 AND asset_address = $2`

	upsertRecordQuery = `
		INSERT INTO account_assets (user_address, asset_address, held_amount, cumulative_deposit_usd, deposit_count, withdraw_count, updated_at)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, NOW())
		ON CONFLICT (user_address, asset_address) DO UPDATE SET
			held_amount = EXCLUDED.held_amount,
			cumulative_deposit_usd = EXCLUDED.cumulative_deposit_usd,
			deposit_count = EXCLUDED.deposit_count,
			withdraw_count = EXCLUDED.withdraw_count,
			updated_at = EXCLUDED.updated_at`

	markProcessedQuery = `
		INSERT INTO processed_calls (tx_hash)
		VALUES ($1)
		ON CONFLICT (tx_hash) DO NOTHING`

	selectCursorQuery = `
		SELECT last_block FROM watcher_cursors WHERE name = $1`

	upsertCursorQuery = `
		INSERT INTO watcher_cursors (name, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = EXCLUDED.updated_at`
)

// PostgresStore keeps records in the account_assets table, applied chain
// calls in processed_calls and watcher positions in watcher_cursors.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key models.AccountKey) (models.AccountAssetRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecordQuery, addressKey(key.User), addressKey(key.Asset)))
}

func (s *PostgresStore) Begin(ctx context.Context) (StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

func (s *PostgresStore) Cursor(ctx context.Context, name string) (uint64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, selectCursorQuery, name).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, name string, block uint64) error {
	_, err := s.db.ExecContext(ctx, upsertCursorQuery, name, int64(block))
	return err
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Get(ctx context.Context, key models.AccountKey) (models.AccountAssetRecord, error) {
	return scanRecord(t.tx.QueryRowContext(ctx, selectRecordQuery+" FOR UPDATE", addressKey(key.User), addressKey(key.Asset)))
}

func (t *postgresTx) Put(ctx context.Context, key models.AccountKey, record models.AccountAssetRecord) error {
	rec := record.Clone()
	_, err := t.tx.ExecContext(ctx, upsertRecordQuery,
		addressKey(key.User),
		addressKey(key.Asset),
		rec.HeldAmount.String(),
		rec.CumulativeDepositUSD.String(),
		int64(rec.DepositCount),
		int64(rec.WithdrawCount),
	)
	return err
}

func (t *postgresTx) MarkProcessed(ctx context.Context, txHash common.Hash) (bool, error) {
	res, err := t.tx.ExecContext(ctx, markProcessedQuery, txHash.Hex())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func scanRecord(row *sql.Row) (models.AccountAssetRecord, error) {
	var (
		held, cumulative      string
		deposits, withdrawals int64
	)
	err := row.Scan(&held, &cumulative, &deposits, &withdrawals)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewAccountAssetRecord(), nil
	}
	if err != nil {
		return models.AccountAssetRecord{}, err
	}

	rec := models.AccountAssetRecord{
		DepositCount:  uint64(deposits),
		WithdrawCount: uint64(withdrawals),
	}
	if rec.HeldAmount, err = parseNumeric(held); err != nil {
		return models.AccountAssetRecord{}, err
	}
	if rec.CumulativeDepositUSD, err = parseNumeric(cumulative); err != nil {
		return models.AccountAssetRecord{}, err
	}
	return rec, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

// addressKey stores addresses in their checksummed form so lookups are
// independent of the casing used by callers.
func addressKey(a common.Address) string {
	return a.Hex()
}
