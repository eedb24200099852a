package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Call describes who invoked a vault operation and how much native value
// travelled with the invocation. TxHash is empty for calls that did not
// originate from a chain transaction.
type Call struct {
	Sender common.Address
	Value  *big.Int
	TxHash common.Hash
}

// AttachedValue returns the attached native value, treating nil as zero.
func (c Call) AttachedValue() *big.Int {
	return AmountOrZero(c.Value)
}

// Price is a single reading from the native price feed.
type Price struct {
	RoundID   *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}
