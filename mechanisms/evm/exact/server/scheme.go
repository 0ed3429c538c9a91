// Package server implements the resource-server side of the EVM exact
// scheme: it converts a route's display price into base units and stamps
// the EIP-712 domain fields (token name/version) onto PaymentRequirements
// so a client can sign without a separate asset-metadata lookup.
package server

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
)

// ExactEvmScheme implements x402.SchemeNetworkService for EVM exact payments.
type ExactEvmScheme struct{}

func NewExactEvmScheme() *ExactEvmScheme { return &ExactEvmScheme{} }

func (s *ExactEvmScheme) Scheme() string { return evm.SchemeExact }

// ParsePrice accepts either a bare USD float (0.001) or a "$0.001"-style
// string and converts it to the asset's base units using its decimals.
func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	usd, err := parseUSD(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	assetInfo, err := evm.GetAssetInfo(string(network), "")
	if err != nil {
		return x402.AssetAmount{}, err
	}

	baseUnits := usd * math.Pow10(assetInfo.Decimals)
	return x402.AssetAmount{
		Asset:  assetInfo.Address,
		Amount: strconv.FormatInt(int64(math.Round(baseUnits)), 10),
	}, nil
}

// EnhancePaymentRequirements stamps the asset's EIP-712 name/version into
// requirements.Extra so the client can sign the TransferWithAuthorization
// typed data without a separate asset lookup.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	_ context.Context,
	requirements x402.PaymentRequirements,
	_ x402.SupportedKind,
	_ []string,
) (x402.PaymentRequirements, error) {
	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return requirements, nil
	}
	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	requirements.Extra["name"] = assetInfo.Name
	requirements.Extra["version"] = assetInfo.Version
	return requirements, nil
}

func parseUSD(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		trimmed := strings.TrimPrefix(strings.TrimSpace(v), "$")
		usd, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid price %q: %w", v, err)
		}
		return usd, nil
	default:
		return 0, fmt.Errorf("unsupported price type %T", price)
	}
}
