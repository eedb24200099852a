package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountKey identifies one user's position in one asset.
type AccountKey struct {
	User  common.Address
	Asset common.Address
}

// AccountAssetRecord holds the custody figures for a single AccountKey.
// The zero value (with nil amounts) is equivalent to a record that was never
// touched.
type AccountAssetRecord struct {
	HeldAmount           *big.Int
	CumulativeDepositUSD *big.Int
	DepositCount         uint64
	WithdrawCount        uint64
}

// NewAccountAssetRecord returns an all-zero record.
func NewAccountAssetRecord() AccountAssetRecord {
	return AccountAssetRecord{
		HeldAmount:           new(big.Int),
		CumulativeDepositUSD: new(big.Int),
	}
}

// Clone returns a deep copy with nil amounts normalised to zero.
func (r AccountAssetRecord) Clone() AccountAssetRecord {
	return AccountAssetRecord{
		HeldAmount:           AmountOrZero(r.HeldAmount),
		CumulativeDepositUSD: AmountOrZero(r.CumulativeDepositUSD),
		DepositCount:         r.DepositCount,
		WithdrawCount:        r.WithdrawCount,
	}
}

// UserAssetStats is the public read view of an AccountAssetRecord.
type UserAssetStats struct {
	CumulativeDepositUSD *big.Int
	DepositCount         uint64
	WithdrawCount        uint64
	CurrentBalance       *big.Int
}

// Stats projects the record onto the public read surface.
func (r AccountAssetRecord) Stats() UserAssetStats {
	c := r.Clone()
	return UserAssetStats{
		CumulativeDepositUSD: c.CumulativeDepositUSD,
		DepositCount:         c.DepositCount,
		WithdrawCount:        c.WithdrawCount,
		CurrentBalance:       c.HeldAmount,
	}
}
