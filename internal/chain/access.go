package chain

import (
	"context"
	"fmt"

	"custody-vault/internal/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultAdminRole is the OpenZeppelin AccessControl root role
const DefaultAdminRole = "DEFAULT_ADMIN_ROLE"

var _ interfaces.AccessControl = (*AccessControl)(nil)

// AccessControl answers capability checks with an on-chain hasRole call.
// Capabilities are role names hashed with keccak256.
type AccessControl struct {
	contract *boundContract
}

func NewAccessControl(address common.Address, caller ethereum.ContractCaller) *AccessControl {
	return &AccessControl{
		contract: &boundContract{address: address, abi: AccessControlABI, caller: caller},
	}
}

// RoleID returns the bytes32 identifier of a role name
func RoleID(name string) [32]byte {
	if name == DefaultAdminRole {
		return [32]byte{}
	}
	return [32]byte(crypto.Keccak256Hash([]byte(name)))
}

func (a *AccessControl) HasCapability(ctx context.Context, identity common.Address, capability string) (bool, error) {
	values, err := a.contract.call(ctx, "hasRole", RoleID(capability), identity)
	if err != nil {
		return false, err
	}
	granted, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected hasRole result type %T", values[0])
	}
	return granted, nil
}
