package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const aggregatorABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

const accessControlABIJSON = `[
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[
		{"name":"role","type":"bytes32"},
		{"name":"account","type":"address"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	AggregatorABI    = mustParseABI(aggregatorABIJSON)
	ERC20ABI         = mustParseABI(erc20ABIJSON)
	AccessControlABI = mustParseABI(accessControlABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}

// boundContract performs read-only calls against a single deployed contract
type boundContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
}

func (b *boundContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	to := b.address
	output, err := b.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call on %s failed: %w", method, b.address.Hex(), err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%s call on %s returned no data", method, b.address.Hex())
	}

	values, err := b.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return values, nil
}
