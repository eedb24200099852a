package validation

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"custody-vault/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashRegex  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	urlRegex     = regexp.MustCompile(`^(https?|wss?)://[^\s/$.?#].[^\s]*$`)
)

// ValidateAddress validates an EVM address in 0x-prefixed hex form
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !addressRegex.MatchString(address) {
		return errors.New("invalid Ethereum address format")
	}
	return nil
}

// ParseAddress validates and parses an EVM address
func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if err := ValidateAddress(address); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(address), nil
}

// ParseAsset parses an asset identity. "native" and the zero address both
// denote the chain's base currency.
func ParseAsset(asset string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(asset), "native") {
		return models.NativeAsset, nil
	}
	return ParseAddress(asset)
}

// ParseUSD converts a dollar string such as "1000" or "2500.50" into a
// 6-decimal fixed-point USD amount. More than six fractional digits are
// rejected rather than rounded.
func ParseUSD(usd string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(usd))
	if err != nil {
		return nil, errors.New("invalid USD amount")
	}
	scaled := d.Shift(models.USDDecimals)
	if !scaled.IsInteger() {
		return nil, errors.New("USD amount has more than six decimals")
	}
	value := scaled.BigInt()
	if value.Sign() <= 0 {
		return nil, errors.New("USD amount must be positive")
	}
	return value, nil
}

// ValidateTxHash validates transaction hash format
func ValidateTxHash(txHash string) error {
	if txHash == "" {
		return errors.New("transaction hash cannot be empty")
	}
	if !txHashRegex.MatchString(txHash) {
		return errors.New("invalid Ethereum transaction hash")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(url string) error {
	if url == "" {
		return errors.New("URL cannot be empty")
	}
	if !urlRegex.MatchString(url) {
		return errors.New("invalid URL format")
	}
	return nil
}
