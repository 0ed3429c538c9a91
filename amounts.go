package x402

import (
	"fmt"
	"math/big"
)

// parseAmount parses a base-unit integer amount string (wei, lamports, ...).
func parseAmount(amount string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-unit amount: %q", amount)
	}
	return n, nil
}

// addAmount adds two base-unit amount strings and returns the sum as a
// decimal string.
func addAmount(a, b string) (string, error) {
	aInt, err := parseAmount(a)
	if err != nil {
		return "", err
	}
	bInt, err := parseAmount(b)
	if err != nil {
		return "", err
	}
	return new(big.Int).Add(aInt, bInt).String(), nil
}
