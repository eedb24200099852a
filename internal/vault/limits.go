package vault

import (
	"fmt"
	"math/big"

	"custody-vault/internal/models"
)

// Limits are the USD caps enforced by the vault, in 6-decimal units.
// They are fixed at construction.
type Limits struct {
	perTxWithdrawLimitUSD   *big.Int
	perAccountDepositCapUSD *big.Int
}

// NewLimits validates that both limits are positive and that a single
// withdrawal can never be worth more than the deposit cap.
func NewLimits(perTxWithdrawLimitUSD, perAccountDepositCapUSD *big.Int) (Limits, error) {
	if perTxWithdrawLimitUSD == nil || perTxWithdrawLimitUSD.Sign() <= 0 {
		return Limits{}, fmt.Errorf("%w: withdraw limit must be positive", ErrInvalidLimits)
	}
	if perAccountDepositCapUSD == nil || perAccountDepositCapUSD.Sign() <= 0 {
		return Limits{}, fmt.Errorf("%w: deposit cap must be positive", ErrInvalidLimits)
	}
	if perTxWithdrawLimitUSD.Cmp(perAccountDepositCapUSD) > 0 {
		return Limits{}, fmt.Errorf("%w: withdraw limit %s exceeds deposit cap %s", ErrInvalidLimits,
			models.FormatUSD(perTxWithdrawLimitUSD), models.FormatUSD(perAccountDepositCapUSD))
	}
	return Limits{
		perTxWithdrawLimitUSD:   new(big.Int).Set(perTxWithdrawLimitUSD),
		perAccountDepositCapUSD: new(big.Int).Set(perAccountDepositCapUSD),
	}, nil
}

func (l Limits) PerTxWithdrawLimitUSD() *big.Int {
	return new(big.Int).Set(l.perTxWithdrawLimitUSD)
}

func (l Limits) PerAccountDepositCapUSD() *big.Int {
	return new(big.Int).Set(l.perAccountDepositCapUSD)
}

// CheckDeposit enforces the lifetime deposit cap. The cap counts every
// deposit ever credited, withdrawals do not free up room.
func (l Limits) CheckDeposit(rec models.AccountAssetRecord, usdAmount *big.Int) error {
	total := new(big.Int).Add(models.AmountOrZero(rec.CumulativeDepositUSD), usdAmount)
	if total.Cmp(l.perAccountDepositCapUSD) > 0 {
		return fmt.Errorf("%w: lifetime deposits would reach %s, cap is %s", ErrCapExceeded,
			models.FormatUSD(total), models.FormatUSD(l.perAccountDepositCapUSD))
	}
	return nil
}

// CheckBalance enforces that the account holds enough to cover rawAmount.
func (l Limits) CheckBalance(rec models.AccountAssetRecord, rawAmount *big.Int) error {
	held := models.AmountOrZero(rec.HeldAmount)
	if held.Sign() == 0 {
		return ErrNothingToWithdraw
	}
	if rawAmount.Cmp(held) > 0 {
		return fmt.Errorf("%w: requested %s, held %s", ErrInsufficientFunds, rawAmount, held)
	}
	return nil
}

// CheckWithdraw enforces the per-transaction withdrawal limit.
func (l Limits) CheckWithdraw(usdAmount *big.Int) error {
	if usdAmount.Cmp(l.perTxWithdrawLimitUSD) > 0 {
		return fmt.Errorf("%w: %s requested, limit is %s", ErrLimitExceeded,
			models.FormatUSD(usdAmount), models.FormatUSD(l.perTxWithdrawLimitUSD))
	}
	return nil
}
