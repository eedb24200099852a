package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventKind string

const (
	Deposited EventKind = "Deposited"
	Withdrawn EventKind = "Withdrawn"
)

func (k EventKind) String() string {
	return string(k)
}

// VaultEvent is the audit record emitted once per successful deposit or
// withdrawal.
type VaultEvent struct {
	ID        string
	Kind      EventKind
	User      common.Address
	Asset     common.Address
	RawAmount *big.Int
	USDAmount *big.Int
	TxHash    common.Hash
	Timestamp time.Time
}

// NewVaultEvent stamps a new event with a random id.
func NewVaultEvent(kind EventKind, call Call, asset common.Address, raw, usd *big.Int, ts time.Time) VaultEvent {
	return VaultEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		User:      call.Sender,
		Asset:     asset,
		RawAmount: AmountOrZero(raw),
		USDAmount: AmountOrZero(usd),
		TxHash:    call.TxHash,
		Timestamp: ts.UTC(),
	}
}
