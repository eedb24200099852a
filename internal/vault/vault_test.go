package vault_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/ledger"
	"custody-vault/internal/models"
	"custody-vault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	operator = common.HexToAddress("0x3333333333333333333333333333333333333333")
	rescue   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	token18  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token6   = common.HexToAddress("0x00000000000000000000000000000000000000a2")

	ctx = context.Background()
)

type testVault struct {
	*vault.Vault
	price    *mockPriceSource
	t18      *mockToken
	t6       *mockToken
	native   *mockNative
	access   *mockAccess
	emitter  *MockEventEmitter
	recorder *mockRecorder
}

func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(1_000_000))
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), models.Pow10(decimals))
}

func amount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v
}

func from(user common.Address) models.Call {
	return models.Call{Sender: user}
}

func withValue(user common.Address, value *big.Int) models.Call {
	return models.Call{Sender: user, Value: value}
}

// newTestVault builds a vault with a $2000 native price, a $1000 withdrawal
// limit and a $5000 deposit cap.
func newTestVault(t *testing.T) *testVault {
	t.Helper()

	limits, err := vault.NewLimits(usd(1000), usd(5000))
	require.NoError(t, err)

	tv := &testVault{
		price: &mockPriceSource{price: models.Price{
			Answer:    big.NewInt(200000000000),
			UpdatedAt: time.Now(),
		}},
		t18:      newMockToken(18),
		t6:       newMockToken(6),
		native:   &mockNative{},
		access:   &mockAccess{admins: map[common.Address]bool{operator: true}},
		emitter:  &MockEventEmitter{},
		recorder: newMockRecorder(),
	}

	v, err := vault.New(vault.Config{
		Limits:      limits,
		PriceSource: tv.price,
		MaxPriceAge: time.Hour,
		Assets:      mockRegistry{token18: tv.t18, token6: tv.t6},
		Native:      tv.native,
		Access:      tv.access,
		Emitter:     tv.emitter,
		Ledger:      ledger.New(ledger.NewMemoryStore()),
		Recorder:    tv.recorder,
	})
	require.NoError(t, err)
	tv.Vault = v
	return tv
}

func (tv *testVault) stats(t *testing.T, user, asset common.Address) models.UserAssetStats {
	t.Helper()
	s, err := tv.GetUserAssetStats(ctx, user, asset)
	require.NoError(t, err)
	return s
}

func TestNewLimits(t *testing.T) {
	tests := []struct {
		name     string
		withdraw *big.Int
		cap      *big.Int
		valid    bool
	}{
		{"valid", usd(1000), usd(5000), true},
		{"equal limits", usd(1000), usd(1000), true},
		{"withdraw above cap", usd(5001), usd(5000), false},
		{"zero withdraw limit", big.NewInt(0), usd(5000), false},
		{"negative cap", usd(1), big.NewInt(-1), false},
		{"missing cap", usd(1), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits, err := vault.NewLimits(tt.withdraw, tt.cap)
			if !tt.valid {
				require.ErrorIs(t, err, vault.ErrInvalidLimits)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.withdraw.String(), limits.PerTxWithdrawLimitUSD().String())
			require.Equal(t, tt.cap.String(), limits.PerAccountDepositCapUSD().String())
		})
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := vault.New(vault.Config{})
	require.ErrorIs(t, err, vault.ErrInvalidLimits)

	limits, err := vault.NewLimits(usd(1), usd(1))
	require.NoError(t, err)
	_, err = vault.New(vault.Config{Limits: limits})
	require.Error(t, err)
}

func TestDepositNative(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)

	require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))

	s := tv.stats(t, alice, models.NativeAsset)
	require.Equal(t, usd(2000).String(), s.CumulativeDepositUSD.String())
	require.Equal(t, oneEth.String(), s.CurrentBalance.String())
	require.Equal(t, uint64(1), s.DepositCount)
	require.Equal(t, uint64(0), s.WithdrawCount)

	events := tv.emitter.GetEmittedEvents()
	require.Len(t, events, 1)
	require.Equal(t, models.Deposited, events[0].Kind)
	require.Equal(t, alice, events[0].User)
	require.Equal(t, models.NativeAsset, events[0].Asset)
	require.Equal(t, oneEth.String(), events[0].RawAmount.String())
	require.Equal(t, "2000000000", events[0].USDAmount.String())
	require.NotEmpty(t, events[0].ID)
}

func TestDepositCapIsCumulative(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)

	require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))
	require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))
	require.Equal(t, usd(4000).String(), tv.stats(t, alice, models.NativeAsset).CumulativeDepositUSD.String())

	// 4000 + 2000 = 6000 > 5000
	err := tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth)
	require.ErrorIs(t, err, vault.ErrCapExceeded)

	s := tv.stats(t, alice, models.NativeAsset)
	require.Equal(t, units(2, 18).String(), s.CurrentBalance.String())
	require.Equal(t, uint64(2), s.DepositCount)
	require.Len(t, tv.emitter.GetEmittedEvents(), 2)

	// other users and assets have their own cap
	require.NoError(t, tv.Deposit(ctx, withValue(bob, oneEth), models.NativeAsset, oneEth))
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, units(10, 6)))
}

func TestCapMonotonicityAcrossWithdrawals(t *testing.T) {
	tv := newTestVault(t)

	require.NoError(t, tv.Deposit(ctx, from(alice), token6, units(5000, 6)))
	require.NoError(t, tv.Withdraw(ctx, from(alice), token6, units(1000, 6)))
	require.NoError(t, tv.Withdraw(ctx, from(alice), token6, units(1000, 6)))

	s := tv.stats(t, alice, token6)
	require.Equal(t, units(3000, 6).String(), s.CurrentBalance.String())
	require.Equal(t, usd(5000).String(), s.CumulativeDepositUSD.String())

	err := tv.Deposit(ctx, from(alice), token6, big.NewInt(1))
	require.ErrorIs(t, err, vault.ErrCapExceeded)
	require.Equal(t, units(3000, 6).String(), tv.stats(t, alice, token6).CurrentBalance.String())
}

func TestDepositTokenPeggedOneToOne(t *testing.T) {
	tv := newTestVault(t)
	raw := amount(t, "500000000000000000000")

	require.NoError(t, tv.Deposit(ctx, from(alice), token18, raw))

	s := tv.stats(t, alice, token18)
	require.Equal(t, "500000000", s.CumulativeDepositUSD.String())
	require.Equal(t, raw.String(), s.CurrentBalance.String())
	require.Equal(t, raw.String(), tv.t18.Custody().String())
}

func TestDepositValidation(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)

	tests := []struct {
		name     string
		call     models.Call
		asset    common.Address
		amount   *big.Int
		expected error
	}{
		{"zero native", withValue(alice, big.NewInt(0)), models.NativeAsset, big.NewInt(0), vault.ErrZeroAmount},
		{"nil amount", from(alice), token18, nil, vault.ErrZeroAmount},
		{"negative amount", from(alice), token18, big.NewInt(-5), vault.ErrInvalidAmount},
		{"native without value", from(alice), models.NativeAsset, oneEth, vault.ErrAmountMismatch},
		{"native with less value", withValue(alice, big.NewInt(1)), models.NativeAsset, oneEth, vault.ErrAmountMismatch},
		{"native with more value", withValue(alice, units(2, 18)), models.NativeAsset, oneEth, vault.ErrAmountMismatch},
		{"token with value", withValue(alice, big.NewInt(1)), token18, oneEth, vault.ErrAmountMismatch},
		{"unknown token", from(alice), common.HexToAddress("0xbeef"), oneEth, vault.ErrMetadataUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tv.Deposit(ctx, tt.call, tt.asset, tt.amount)
			require.ErrorIs(t, err, tt.expected)
		})
	}

	require.True(t, tv.stats(t, alice, models.NativeAsset).CurrentBalance.Sign() == 0)
	require.True(t, tv.stats(t, alice, token18).CurrentBalance.Sign() == 0)
	require.Empty(t, tv.emitter.GetEmittedEvents())
	require.Equal(t, 4, tv.recorder.rejections["deposit/amount_mismatch"])
}

func TestDepositTransferInFailureLeavesLedgerUntouched(t *testing.T) {
	tv := newTestVault(t)
	tv.t18.transferIn = func(common.Address, *big.Int) error {
		return errors.New("ERC20: insufficient allowance")
	}

	err := tv.Deposit(ctx, from(alice), token18, units(1, 18))
	require.ErrorIs(t, err, vault.ErrTransferFailed)

	s := tv.stats(t, alice, token18)
	require.Zero(t, s.CurrentBalance.Sign())
	require.Zero(t, s.CumulativeDepositUSD.Sign())
	require.Zero(t, s.DepositCount)
	require.Empty(t, tv.emitter.GetEmittedEvents())
}

func TestDepositPriceUnavailable(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)

	tv.price.price.Answer = big.NewInt(0)
	err := tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth)
	require.ErrorIs(t, err, vault.ErrPriceUnavailable)

	tv.price.price.Answer = big.NewInt(200000000000)
	tv.price.price.UpdatedAt = time.Now().Add(-2 * time.Hour)
	err = tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth)
	require.ErrorIs(t, err, vault.ErrPriceUnavailable)

	tv.price.err = errors.New("rpc timeout")
	err = tv.Receive(ctx, withValue(alice, oneEth))
	require.ErrorIs(t, err, vault.ErrPriceUnavailable)

	require.True(t, tv.stats(t, alice, models.NativeAsset).CurrentBalance.Sign() == 0)
}

func TestDepositMetadataUnavailable(t *testing.T) {
	tv := newTestVault(t)
	tv.t18.decimalsErr = errors.New("execution reverted")
	transferred := false
	tv.t18.transferIn = func(common.Address, *big.Int) error {
		transferred = true
		return nil
	}

	err := tv.Deposit(ctx, from(alice), token18, units(1, 18))
	require.ErrorIs(t, err, vault.ErrMetadataUnavailable)
	require.False(t, transferred)
}

func TestReceiveSkipsDepositCap(t *testing.T) {
	tv := newTestVault(t)
	twoEth := units(2, 18)

	require.NoError(t, tv.Deposit(ctx, withValue(alice, twoEth), models.NativeAsset, twoEth))
	require.ErrorIs(t, tv.Deposit(ctx, withValue(alice, twoEth), models.NativeAsset, twoEth), vault.ErrCapExceeded)

	require.NoError(t, tv.Receive(ctx, withValue(alice, twoEth)))

	s := tv.stats(t, alice, models.NativeAsset)
	require.Equal(t, units(4, 18).String(), s.CurrentBalance.String())
	require.Equal(t, usd(8000).String(), s.CumulativeDepositUSD.String())
	require.Equal(t, uint64(2), s.DepositCount)

	events := tv.emitter.GetEmittedEvents()
	require.Len(t, events, 2)
	require.Equal(t, models.Deposited, events[1].Kind)

	require.ErrorIs(t, tv.Receive(ctx, from(alice)), vault.ErrZeroAmount)
}

func TestWithdrawLimitBoundary(t *testing.T) {
	tv := newTestVault(t)
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(3000)))

	err := tv.Withdraw(ctx, from(alice), token6, amount(t, "1000000001"))
	require.ErrorIs(t, err, vault.ErrLimitExceeded)
	require.Equal(t, usd(3000).String(), tv.stats(t, alice, token6).CurrentBalance.String())

	require.NoError(t, tv.Withdraw(ctx, from(alice), token6, amount(t, "1000000000")))

	s := tv.stats(t, alice, token6)
	require.Equal(t, usd(2000).String(), s.CurrentBalance.String())
	require.Equal(t, uint64(1), s.WithdrawCount)
	require.Equal(t, usd(3000).String(), s.CumulativeDepositUSD.String())
	require.Equal(t, usd(1000).String(), tv.t6.received[alice].String())
}

func TestWithdrawNativeUsesLivePrice(t *testing.T) {
	tv := newTestVault(t)
	twoEth := units(2, 18)
	require.NoError(t, tv.Deposit(ctx, withValue(alice, twoEth), models.NativeAsset, twoEth))

	// 1 ETH is $2000, above the $1000 limit
	err := tv.Withdraw(ctx, from(alice), models.NativeAsset, units(1, 18))
	require.ErrorIs(t, err, vault.ErrLimitExceeded)

	halfEth := amount(t, "500000000000000000")
	require.NoError(t, tv.Withdraw(ctx, from(alice), models.NativeAsset, halfEth))
	require.Equal(t, halfEth.String(), tv.native.Sent(alice).String())

	events := tv.emitter.GetEmittedEvents()
	require.Len(t, events, 2)
	require.Equal(t, models.Withdrawn, events[1].Kind)
	require.Equal(t, usd(1000).String(), events[1].USDAmount.String())

	// price halves, 1 ETH is now exactly at the limit
	tv.price.price.Answer = big.NewInt(100000000000)
	require.NoError(t, tv.Withdraw(ctx, from(alice), models.NativeAsset, units(1, 18)))
	require.Equal(t, halfEth.String(), tv.stats(t, alice, models.NativeAsset).CurrentBalance.String())
}

func TestWithdrawChecksOrder(t *testing.T) {
	tv := newTestVault(t)

	// nothing held wins over every other check, even a broken feed
	tv.price.err = errors.New("feed down")
	err := tv.Withdraw(ctx, from(alice), models.NativeAsset, units(100, 18))
	require.ErrorIs(t, err, vault.ErrNothingToWithdraw)

	tv.price.err = nil
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(100)))

	err = tv.Withdraw(ctx, from(alice), token6, usd(101))
	require.ErrorIs(t, err, vault.ErrInsufficientFunds)

	err = tv.Withdraw(ctx, from(bob), token6, usd(1))
	require.ErrorIs(t, err, vault.ErrNothingToWithdraw)

	err = tv.Withdraw(ctx, from(alice), token6, big.NewInt(0))
	require.ErrorIs(t, err, vault.ErrZeroAmount)

	require.Equal(t, usd(100).String(), tv.stats(t, alice, token6).CurrentBalance.String())
}

func TestWithdrawTransferFailureRollsBack(t *testing.T) {
	t.Run("token", func(t *testing.T) {
		tv := newTestVault(t)
		require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(500)))
		before := tv.stats(t, alice, token6)

		tv.t6.transferOut = func(common.Address, *big.Int) error {
			return errors.New("transaction reverted")
		}
		err := tv.Withdraw(ctx, from(alice), token6, usd(200))
		require.ErrorIs(t, err, vault.ErrTransferFailed)

		after := tv.stats(t, alice, token6)
		require.Equal(t, before.CurrentBalance.String(), after.CurrentBalance.String())
		require.Equal(t, before.WithdrawCount, after.WithdrawCount)
		require.Len(t, tv.emitter.GetEmittedEvents(), 1)
	})

	t.Run("native", func(t *testing.T) {
		tv := newTestVault(t)
		oneEth := units(1, 18)
		require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))

		tv.native.send = func(common.Address, *big.Int) error {
			return errors.New("insufficient funds for gas")
		}
		err := tv.Withdraw(ctx, from(alice), models.NativeAsset, big.NewInt(1000))
		require.ErrorIs(t, err, vault.ErrTransferFailed)
		require.Equal(t, oneEth.String(), tv.stats(t, alice, models.NativeAsset).CurrentBalance.String())
		require.Zero(t, tv.stats(t, alice, models.NativeAsset).WithdrawCount)
	})
}

func TestReentrancyFromTransferOut(t *testing.T) {
	tv := newTestVault(t)
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(500)))
	require.NoError(t, tv.Deposit(ctx, from(bob), token6, usd(500)))

	var nested []error
	tv.t6.transferOut = func(to common.Address, amount *big.Int) error {
		nested = append(nested,
			tv.Withdraw(ctx, from(to), token6, amount),
			tv.Deposit(ctx, from(bob), token6, usd(1)),
			tv.Receive(ctx, withValue(bob, big.NewInt(1))),
			tv.AdminWithdraw(ctx, from(operator), token6, usd(1), rescue),
		)
		return nil
	}

	require.NoError(t, tv.Withdraw(ctx, from(alice), token6, usd(100)))

	require.Len(t, nested, 4)
	for _, err := range nested {
		require.ErrorIs(t, err, vault.ErrReentrancyDetected)
	}

	a := tv.stats(t, alice, token6)
	require.Equal(t, usd(400).String(), a.CurrentBalance.String())
	require.Equal(t, uint64(1), a.WithdrawCount)

	b := tv.stats(t, bob, token6)
	require.Equal(t, usd(500).String(), b.CurrentBalance.String())
	require.Equal(t, uint64(1), b.DepositCount)
	require.True(t, tv.stats(t, bob, models.NativeAsset).CurrentBalance.Sign() == 0)
	require.Equal(t, 4, tv.recorder.rejections["withdraw/reentrancy_detected"]+
		tv.recorder.rejections["deposit/reentrancy_detected"]+
		tv.recorder.rejections["receive/reentrancy_detected"]+
		tv.recorder.rejections["admin_withdraw/reentrancy_detected"])
}

func TestReentrancyFromTransferIn(t *testing.T) {
	tv := newTestVault(t)
	require.NoError(t, tv.Deposit(ctx, from(alice), token18, units(10, 18)))

	var nested error
	tv.t18.transferIn = func(from common.Address, _ *big.Int) error {
		nested = tv.Withdraw(ctx, models.Call{Sender: from}, token18, units(10, 18))
		return nil
	}

	require.NoError(t, tv.Deposit(ctx, from(alice), token18, units(1, 18)))
	require.ErrorIs(t, nested, vault.ErrReentrancyDetected)
	require.Equal(t, units(11, 18).String(), tv.stats(t, alice, token18).CurrentBalance.String())
}

func TestConcurrentCallerIsRejectedNotQueued(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)
	require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))

	var concurrent error
	tv.native.send = func(common.Address, *big.Int) error {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			concurrent = tv.Deposit(ctx, withValue(bob, oneEth), models.NativeAsset, oneEth)
		}()
		wg.Wait()
		return nil
	}

	require.NoError(t, tv.Withdraw(ctx, from(alice), models.NativeAsset, big.NewInt(1)))
	require.ErrorIs(t, concurrent, vault.ErrReentrancyDetected)

	// the guard is released once the operation returns
	tv.native.send = nil
	require.NoError(t, tv.Deposit(ctx, withValue(bob, oneEth), models.NativeAsset, oneEth))
}

func TestGuardReleasedAfterFailure(t *testing.T) {
	tv := newTestVault(t)

	require.ErrorIs(t, tv.Withdraw(ctx, from(alice), token6, usd(1)), vault.ErrNothingToWithdraw)
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(1)))
}

func TestAdminWithdraw(t *testing.T) {
	tv := newTestVault(t)
	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(4000)))
	before := tv.stats(t, alice, token6)

	err := tv.AdminWithdraw(ctx, from(alice), token6, usd(4000), alice)
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	// limits do not apply to the escape hatch
	require.NoError(t, tv.AdminWithdraw(ctx, from(operator), token6, usd(4000), rescue))
	require.Equal(t, usd(4000).String(), tv.t6.received[rescue].String())
	require.Zero(t, tv.t6.Custody().Sign())

	after := tv.stats(t, alice, token6)
	require.Equal(t, before.CurrentBalance.String(), after.CurrentBalance.String())
	require.Equal(t, before.WithdrawCount, after.WithdrawCount)
	require.Len(t, tv.emitter.GetEmittedEvents(), 1)

	require.NoError(t, tv.AdminWithdraw(ctx, from(operator), models.NativeAsset, units(3, 18), rescue))
	require.Equal(t, units(3, 18).String(), tv.native.Sent(rescue).String())
}

func TestAdminWithdrawFailures(t *testing.T) {
	tv := newTestVault(t)

	require.ErrorIs(t, tv.AdminWithdraw(ctx, from(operator), token6, big.NewInt(0), rescue), vault.ErrZeroAmount)

	tv.native.send = func(common.Address, *big.Int) error { return errors.New("nonce too low") }
	require.ErrorIs(t, tv.AdminWithdraw(ctx, from(operator), models.NativeAsset, big.NewInt(1), rescue), vault.ErrTransferFailed)

	tv.access.err = errors.New("rpc unreachable")
	require.ErrorIs(t, tv.AdminWithdraw(ctx, from(operator), token6, big.NewInt(1), rescue), vault.ErrUnauthorized)
}

func TestConservation(t *testing.T) {
	tv := newTestVault(t)

	steps := []struct {
		deposit bool
		amount  int64
	}{
		{true, 700}, {false, 200}, {true, 1300}, {false, 999}, {false, 1},
		{true, 250}, {false, 1000}, {true, 50}, {false, 60},
	}

	expected := new(big.Int)
	for _, s := range steps {
		raw := usd(s.amount)
		if s.deposit {
			require.NoError(t, tv.Deposit(ctx, from(alice), token6, raw))
			expected.Add(expected, raw)
		} else {
			require.NoError(t, tv.Withdraw(ctx, from(alice), token6, raw))
			expected.Sub(expected, raw)
		}
		require.Equal(t, expected.String(), tv.stats(t, alice, token6).CurrentBalance.String())
	}

	// rejected operations never disturb the balance
	require.Error(t, tv.Withdraw(ctx, from(alice), token6, usd(10_000)))
	require.Error(t, tv.Deposit(ctx, from(alice), token6, usd(10_000)))

	s := tv.stats(t, alice, token6)
	require.Equal(t, expected.String(), s.CurrentBalance.String())
	require.Equal(t, expected.String(), tv.t6.Custody().String())
	require.Equal(t, uint64(4), s.DepositCount)
	require.Equal(t, uint64(5), s.WithdrawCount)
}

func TestEmitterFailureDoesNotFailOperation(t *testing.T) {
	tv := newTestVault(t)
	tv.emitter.emitError = errors.New("kafka unavailable")

	require.NoError(t, tv.Deposit(ctx, from(alice), token6, usd(10)))
	require.Equal(t, usd(10).String(), tv.stats(t, alice, token6).CurrentBalance.String())
	require.Equal(t, 1, tv.recorder.operations[vault.OpDeposit])
}

func TestReason(t *testing.T) {
	require.Equal(t, "cap_exceeded", vault.Reason(vault.ErrCapExceeded))
	require.Equal(t, "price_unavailable", vault.Reason(vault.ErrPriceUnavailable))
	require.Equal(t, "transfer_failed", vault.Reason(errors.Join(errors.New("x"), vault.ErrTransferFailed)))
	require.Equal(t, "already_processed", vault.Reason(fmt.Errorf("deposit: %w", vault.ErrAlreadyProcessed)))
	require.Equal(t, "internal", vault.Reason(errors.New("boom")))
}

func onChain(call models.Call, hash string) models.Call {
	call.TxHash = common.HexToHash(hash)
	return call
}

func unconfirmed(common.Address, *big.Int) error {
	return fmt.Errorf("%w: receipt timeout", interfaces.ErrTransferUnconfirmed)
}

func TestWithdrawUnconfirmedKeepsDebit(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)
	require.NoError(t, tv.Deposit(ctx, withValue(alice, oneEth), models.NativeAsset, oneEth))

	tv.native.send = unconfirmed
	halfEth := amount(t, "500000000000000000")
	call := onChain(from(alice), "0xa1")
	require.NoError(t, tv.Withdraw(ctx, call, models.NativeAsset, halfEth))

	s := tv.stats(t, alice, models.NativeAsset)
	require.Equal(t, halfEth.String(), s.CurrentBalance.String())
	require.Equal(t, uint64(1), s.WithdrawCount)

	events := tv.emitter.GetEmittedEvents()
	require.Equal(t, models.Withdrawn, events[len(events)-1].Kind)

	// a replay of the same call must not pay out again
	tv.native.send = nil
	require.ErrorIs(t, tv.Withdraw(ctx, call, models.NativeAsset, halfEth), vault.ErrAlreadyProcessed)
	require.Zero(t, tv.native.Sent(alice).Sign())
}

func TestDepositUnconfirmedTransferInIsNotCredited(t *testing.T) {
	tv := newTestVault(t)
	tv.t6.transferIn = unconfirmed
	call := onChain(from(alice), "0xb1")

	require.ErrorIs(t, tv.Deposit(ctx, call, token6, usd(10)), vault.ErrTransferFailed)
	require.Zero(t, tv.stats(t, alice, token6).DepositCount)

	tv.t6.transferIn = nil
	require.ErrorIs(t, tv.Deposit(ctx, call, token6, usd(10)), vault.ErrAlreadyProcessed)
	require.Zero(t, tv.t6.Custody().Sign())
}

func TestReplayedCallsApplyOnce(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)
	deposit := onChain(withValue(alice, oneEth), "0xc1")

	require.NoError(t, tv.Deposit(ctx, deposit, models.NativeAsset, oneEth))
	require.ErrorIs(t, tv.Deposit(ctx, deposit, models.NativeAsset, oneEth), vault.ErrAlreadyProcessed)

	receive := onChain(withValue(bob, oneEth), "0xc2")
	require.NoError(t, tv.Receive(ctx, receive))
	require.ErrorIs(t, tv.Receive(ctx, receive), vault.ErrAlreadyProcessed)

	require.Equal(t, oneEth.String(), tv.stats(t, alice, models.NativeAsset).CurrentBalance.String())
	require.Equal(t, oneEth.String(), tv.stats(t, bob, models.NativeAsset).CurrentBalance.String())

	admin := onChain(from(operator), "0xc3")
	require.NoError(t, tv.AdminWithdraw(ctx, admin, models.NativeAsset, big.NewInt(7), rescue))
	require.ErrorIs(t, tv.AdminWithdraw(ctx, admin, models.NativeAsset, big.NewInt(7), rescue), vault.ErrAlreadyProcessed)
	require.Equal(t, "7", tv.native.Sent(rescue).String())
}

func TestRejectedCallCanBeRetried(t *testing.T) {
	tv := newTestVault(t)
	oneEth := units(1, 18)
	call := onChain(withValue(alice, oneEth), "0xd1")

	tv.price.err = errors.New("feed down")
	require.ErrorIs(t, tv.Deposit(ctx, call, models.NativeAsset, oneEth), vault.ErrPriceUnavailable)

	tv.price.err = nil
	require.NoError(t, tv.Deposit(ctx, call, models.NativeAsset, oneEth))
}

func TestAdminWithdrawUnconfirmedIsRecorded(t *testing.T) {
	tv := newTestVault(t)
	tv.native.send = unconfirmed
	call := onChain(from(operator), "0xe1")

	require.ErrorIs(t, tv.AdminWithdraw(ctx, call, models.NativeAsset, big.NewInt(1), rescue), vault.ErrTransferFailed)

	tv.native.send = nil
	require.ErrorIs(t, tv.AdminWithdraw(ctx, call, models.NativeAsset, big.NewInt(1), rescue), vault.ErrAlreadyProcessed)
	require.Zero(t, tv.native.Sent(rescue).Sign())
}
