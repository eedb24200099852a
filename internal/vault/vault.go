// Package vault coordinates deposits and withdrawals against the ledger.
//
// Every public mutation runs under a single per-vault guard: an operation that
// starts while another is executing, including one triggered synchronously
// from inside an asset transfer, fails with ErrReentrancyDetected. Each
// operation either commits all of its ledger changes or none of them, and a
// call carrying a chain transaction hash commits at most once.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/ledger"
	"custody-vault/internal/models"
	"custody-vault/internal/pricing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// AdminCapability is the capability an operator needs for AdminWithdraw.
const AdminCapability = "VAULT_ADMIN_ROLE"

// Operation names used for logging and metrics.
const (
	OpDeposit       = "deposit"
	OpWithdraw      = "withdraw"
	OpReceive       = "receive"
	OpAdminWithdraw = "admin_withdraw"
)

// Recorder receives operation outcomes. The metrics package implements it.
type Recorder interface {
	ObserveOperation(op string, asset common.Address, usdAmount *big.Int)
	ObserveRejection(op string, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, common.Address, *big.Int) {}
func (nopRecorder) ObserveRejection(string, string)                   {}

// Config holds the vault collaborators.
type Config struct {
	Limits      Limits
	PriceSource interfaces.PriceSource
	// MaxPriceAge bounds how old a native price reading may be. Zero
	// disables the check.
	MaxPriceAge time.Duration
	Assets      interfaces.AssetRegistry
	Native      interfaces.NativeTransferer
	Access      interfaces.AccessControl
	Emitter     interfaces.EventEmitter
	Ledger      *ledger.Ledger
	Recorder    Recorder
	Logger      *zerolog.Logger
}

func (c Config) validate() error {
	if c.Limits.perTxWithdrawLimitUSD == nil || c.Limits.perAccountDepositCapUSD == nil {
		return fmt.Errorf("%w: limits not set", ErrInvalidLimits)
	}
	switch {
	case c.PriceSource == nil:
		return errors.New("missing price source")
	case c.Assets == nil:
		return errors.New("missing asset registry")
	case c.Native == nil:
		return errors.New("missing native transferer")
	case c.Access == nil:
		return errors.New("missing access control")
	case c.Ledger == nil:
		return errors.New("missing ledger")
	}
	return nil
}

// Vault is the transaction coordinator.
type Vault struct {
	limits     Limits
	normalizer *pricing.Normalizer
	assets     interfaces.AssetRegistry
	native     interfaces.NativeTransferer
	access     interfaces.AccessControl
	emitter    interfaces.EventEmitter
	ledger     *ledger.Ledger
	recorder   Recorder
	logger     *zerolog.Logger
	guard      guard
	now        func() time.Time
}

// New builds a vault from its collaborators.
func New(cfg Config) (*Vault, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	v := &Vault{
		limits:     cfg.Limits,
		normalizer: pricing.NewNormalizer(cfg.PriceSource, cfg.Assets, cfg.MaxPriceAge),
		assets:     cfg.Assets,
		native:     cfg.Native,
		access:     cfg.Access,
		emitter:    cfg.Emitter,
		ledger:     cfg.Ledger,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		now:        time.Now,
	}
	if v.recorder == nil {
		v.recorder = nopRecorder{}
	}
	if v.logger == nil {
		nop := zerolog.Nop()
		v.logger = &nop
	}
	return v, nil
}

// Limits returns the caps the vault was built with.
func (v *Vault) Limits() Limits {
	return v.limits
}

// Deposit credits amount of asset to the caller. Native deposits must carry
// exactly amount as attached value; token deposits must carry none and are
// pulled from the caller before the ledger is credited.
func (v *Vault) Deposit(ctx context.Context, call models.Call, asset common.Address, amount *big.Int) (err error) {
	defer v.observe(OpDeposit, &err)

	release, err := v.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return err
	}

	attached := call.AttachedValue()
	if models.IsNative(asset) {
		if attached.Cmp(amount) != 0 {
			return fmt.Errorf("%w: attached %s, amount %s", ErrAmountMismatch, attached, amount)
		}
	} else if attached.Sign() != 0 {
		return fmt.Errorf("%w: token deposits must not carry native value", ErrAmountMismatch)
	}

	return v.deposit(ctx, OpDeposit, call, asset, amount, true)
}

// Receive handles native value sent to the vault without a Deposit call. It
// is credited to the sender at face value and, unlike Deposit, is not
// checked against the deposit cap.
func (v *Vault) Receive(ctx context.Context, call models.Call) (err error) {
	defer v.observe(OpReceive, &err)

	release, err := v.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	amount := call.AttachedValue()
	if err := checkAmount(amount); err != nil {
		return err
	}

	return v.deposit(ctx, OpReceive, call, models.NativeAsset, amount, false)
}

func (v *Vault) deposit(ctx context.Context, op string, call models.Call, asset common.Address, amount *big.Int, enforceCap bool) error {
	var token interfaces.Asset
	if !models.IsNative(asset) {
		a, err := v.assets.Asset(ctx, asset)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
		}
		token = a
	}

	tx, err := v.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.MarkProcessed(ctx, call.TxHash); err != nil {
		return err
	}

	rec, err := tx.Read(ctx, call.Sender, asset)
	if err != nil {
		return err
	}

	usd, err := v.normalizer.ToUSD(ctx, asset, amount)
	if err != nil {
		return err
	}

	if enforceCap {
		if err := v.limits.CheckDeposit(rec, usd); err != nil {
			return err
		}
	}

	if token != nil {
		if err := token.TransferIn(ctx, call.Sender, amount); err != nil {
			if errors.Is(err, interfaces.ErrTransferUnconfirmed) {
				v.keepProcessedMark(tx, op, call, asset, amount, err)
			}
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	if err := tx.Credit(ctx, call.Sender, asset, amount, usd); err != nil {
		return v.afterTransferFailure(op, call, asset, amount, token != nil, err)
	}
	if err := tx.Commit(); err != nil {
		return v.afterTransferFailure(op, call, asset, amount, token != nil, err)
	}

	v.logger.Info().
		Str("op", op).
		Str("user", call.Sender.Hex()).
		Str("asset", models.AssetLabel(asset)).
		Str("amount", amount.String()).
		Str("usd", models.FormatUSD(usd)).
		Msg("Deposit credited")

	v.recorder.ObserveOperation(op, asset, usd)
	v.emit(ctx, models.NewVaultEvent(models.Deposited, call, asset, amount, usd, v.now()))
	return nil
}

// Withdraw releases amount of asset from the caller's balance. The ledger is
// debited before value leaves the vault and the debit is rolled back if the
// transfer fails. A transfer that was broadcast but not confirmed keeps the
// debit, since the value may still arrive.
func (v *Vault) Withdraw(ctx context.Context, call models.Call, asset common.Address, amount *big.Int) (err error) {
	defer v.observe(OpWithdraw, &err)

	release, err := v.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return err
	}

	var token interfaces.Asset
	if !models.IsNative(asset) {
		a, err := v.assets.Asset(ctx, asset)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
		}
		token = a
	}

	tx, err := v.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.MarkProcessed(ctx, call.TxHash); err != nil {
		return err
	}

	rec, err := tx.Read(ctx, call.Sender, asset)
	if err != nil {
		return err
	}
	if err := v.limits.CheckBalance(rec, amount); err != nil {
		return err
	}

	usd, err := v.normalizer.ToUSD(ctx, asset, amount)
	if err != nil {
		return err
	}
	if err := v.limits.CheckWithdraw(usd); err != nil {
		return err
	}

	if err := tx.Debit(ctx, call.Sender, asset, amount, usd); err != nil {
		return err
	}

	if err := v.transferOut(ctx, token, call.Sender, amount); err != nil {
		if !errors.Is(err, interfaces.ErrTransferUnconfirmed) {
			if rbErr := tx.Rollback(); rbErr != nil {
				v.logger.Error().
					Err(rbErr).
					Str("user", call.Sender.Hex()).
					Str("asset", models.AssetLabel(asset)).
					Msg("Failed to roll back withdrawal debit")
			}
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		v.logger.Error().
			Err(err).
			Str("user", call.Sender.Hex()).
			Str("asset", models.AssetLabel(asset)).
			Str("amount", amount.String()).
			Str("txHash", call.TxHash.Hex()).
			Msg("Withdrawal broadcast but not confirmed, debit kept for reconciliation")
	}

	if err := tx.Commit(); err != nil {
		v.logger.Error().
			Err(err).
			Str("user", call.Sender.Hex()).
			Str("asset", models.AssetLabel(asset)).
			Str("amount", amount.String()).
			Msg("Value released but withdrawal debit was not committed, manual reconciliation required")
		return err
	}

	v.logger.Info().
		Str("user", call.Sender.Hex()).
		Str("asset", models.AssetLabel(asset)).
		Str("amount", amount.String()).
		Str("usd", models.FormatUSD(usd)).
		Msg("Withdrawal released")

	v.recorder.ObserveOperation(OpWithdraw, asset, usd)
	v.emit(ctx, models.NewVaultEvent(models.Withdrawn, call, asset, amount, usd, v.now()))
	return nil
}

// AdminWithdraw moves raw custody straight to destination on behalf of the
// calling operator. It bypasses limits and leaves balances untouched; it
// exists to recover stuck funds. Only the call's transaction hash is
// recorded so a replayed call cannot pay out twice.
func (v *Vault) AdminWithdraw(ctx context.Context, call models.Call, asset common.Address, amount *big.Int, destination common.Address) (err error) {
	defer v.observe(OpAdminWithdraw, &err)

	release, err := v.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return err
	}

	operator := call.Sender
	ok, err := v.access.HasCapability(ctx, operator, AdminCapability)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, operator.Hex(), AdminCapability)
	}

	var token interfaces.Asset
	if !models.IsNative(asset) {
		a, err := v.assets.Asset(ctx, asset)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
		}
		token = a
	}

	tx, err := v.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.MarkProcessed(ctx, call.TxHash); err != nil {
		return err
	}

	if err := v.transferOut(ctx, token, destination, amount); err != nil {
		if errors.Is(err, interfaces.ErrTransferUnconfirmed) {
			v.keepProcessedMark(tx, OpAdminWithdraw, call, asset, amount, err)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := tx.Commit(); err != nil {
		v.logger.Error().
			Err(err).
			Str("operator", operator.Hex()).
			Str("txHash", call.TxHash.Hex()).
			Msg("Admin withdrawal released but not recorded as processed")
	}

	v.logger.Warn().
		Str("operator", operator.Hex()).
		Str("asset", models.AssetLabel(asset)).
		Str("amount", amount.String()).
		Str("destination", destination.Hex()).
		Msg("Admin withdrawal executed outside the ledger")

	v.recorder.ObserveOperation(OpAdminWithdraw, asset, nil)
	return nil
}

// GetUserAssetStats returns the lifetime figures and current balance of one
// account. It does not take the operation guard.
func (v *Vault) GetUserAssetStats(ctx context.Context, user, asset common.Address) (models.UserAssetStats, error) {
	rec, err := v.ledger.Read(ctx, user, asset)
	if err != nil {
		return models.UserAssetStats{}, err
	}
	return rec.Stats(), nil
}

// transferOut sends native value through the native transferer and tokens
// through their own transfer. token is nil for the native asset.
func (v *Vault) transferOut(ctx context.Context, token interfaces.Asset, to common.Address, amount *big.Int) error {
	if token == nil {
		return v.native.SendNative(ctx, to, amount)
	}
	return token.TransferOut(ctx, to, amount)
}

// keepProcessedMark commits only the processed-call record of tx after a
// transfer whose outcome is unknown, so a replay of the call cannot move the
// value a second time.
func (v *Vault) keepProcessedMark(tx *ledger.Tx, op string, call models.Call, asset common.Address, amount *big.Int, cause error) {
	evt := v.logger.Error().
		Err(cause).
		Str("op", op).
		Str("user", call.Sender.Hex()).
		Str("asset", models.AssetLabel(asset)).
		Str("amount", amount.String()).
		Str("txHash", call.TxHash.Hex())
	if err := tx.Commit(); err != nil {
		evt.AnErr("commitErr", err)
	}
	evt.Msg("Transfer broadcast but not confirmed, manual reconciliation required")
}

// afterTransferFailure reports a ledger failure that happened after a
// token was already pulled into custody.
func (v *Vault) afterTransferFailure(op string, call models.Call, asset common.Address, amount *big.Int, pulled bool, err error) error {
	if pulled {
		v.logger.Error().
			Err(err).
			Str("op", op).
			Str("user", call.Sender.Hex()).
			Str("asset", models.AssetLabel(asset)).
			Str("amount", amount.String()).
			Msg("Tokens pulled into custody but deposit was not recorded, manual reconciliation required")
	}
	return err
}

func (v *Vault) emit(ctx context.Context, event models.VaultEvent) {
	if v.emitter == nil {
		return
	}
	if err := v.emitter.EmitEvent(ctx, event); err != nil {
		v.logger.Error().
			Err(err).
			Str("event", event.Kind.String()).
			Str("id", event.ID).
			Msg("Error emitting vault event")
	}
}

func (v *Vault) observe(op string, errp *error) {
	err := *errp
	if err == nil {
		return
	}
	reason := Reason(err)
	v.recorder.ObserveRejection(op, reason)

	evt := v.logger.Warn()
	if reason == "internal" {
		evt = v.logger.Error()
	}
	evt.Err(err).Str("op", op).Str("reason", reason).Msg("Vault operation rejected")
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
