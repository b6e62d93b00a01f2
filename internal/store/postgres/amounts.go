package postgres

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts and token ids are stored as NUMERIC(78,0) and travel as decimal
// text so no precision is lost.

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableAmount(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func parseNullableAmount(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseAmount(*s)
}

// The zero address is stored as the empty string.
func formatAddress(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func parseAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
