package chain

import (
	"context"
	"errors"
	"math/big"

	"custody-vault/internal/interfaces"
	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

var _ interfaces.NativeTransferer = (*NativeSender)(nil)

// NativeSender pays out the chain's base currency from the vault account
type NativeSender struct {
	tx *Transactor
}

func NewNativeSender(tx *Transactor) *NativeSender {
	return &NativeSender{tx: tx}
}

func (n *NativeSender) SendNative(ctx context.Context, to common.Address, amount *big.Int) error {
	if to == models.NativeAsset {
		return errors.New("refusing to send to the zero address")
	}
	_, err := n.tx.Send(ctx, to, amount, nil)
	return err
}
