package ledger_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"custody-vault/internal/database"
	"custody-vault/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// postgresStore returns a migrated store when LEDGER_TEST_DATABASE_URL points
// to a disposable database, nil otherwise.
func postgresStore(t *testing.T) ledger.Store {
	t.Helper()

	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		return nil
	}

	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(db, "ledger_test"))
	return ledger.NewPostgresStore(db)
}

// uniqueUser derives a fresh address per test so runs against a shared
// database do not observe each other's rows.
func uniqueUser(t *testing.T, base common.Address) common.Address {
	seed := fmt.Sprintf("%s/%s/%d", base.Hex(), t.Name(), time.Now().UnixNano())
	return common.BytesToAddress(crypto.Keccak256([]byte(seed)))
}
