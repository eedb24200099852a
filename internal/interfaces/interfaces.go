package interfaces

import (
	"context"
	"math/big"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource reports the latest native asset price in 8-decimal USD.
type PriceSource interface {
	LatestPrice(ctx context.Context) (models.Price, error)
}

// Asset is the capability set of a fungible token held in custody.
type Asset interface {
	// Decimals returns the token's raw precision
	Decimals(ctx context.Context) (uint8, error)

	// TransferIn pulls amount from the given owner into vault custody
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error

	// TransferOut releases amount from vault custody to the recipient
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
}

// AssetRegistry resolves a token identity to its Asset implementation.
type AssetRegistry interface {
	Asset(ctx context.Context, token common.Address) (Asset, error)
}

// NativeTransferer moves the chain's base currency out of vault custody.
type NativeTransferer interface {
	SendNative(ctx context.Context, to common.Address, amount *big.Int) error
}

// AccessControl answers capability checks for privileged operations.
type AccessControl interface {
	HasCapability(ctx context.Context, identity common.Address, capability string) (bool, error)
}

// Watcher follows the chain and feeds vault calls into the coordinator.
type Watcher interface {
	Start(ctx context.Context) error
	GetBlockHead(ctx context.Context) (uint64, error)
	Stop(ctx context.Context) error
}
