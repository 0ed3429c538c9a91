// Package client implements the client side of the upto (ERC-2612 spending
// cap) scheme: every payload it creates carries a newly signed Permit
// authorization. No Permit is cached or reused across calls (spec §4.C).
package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"x402-go/mechanisms/evm"
	x402 "x402-go"
)

// UptoEvmScheme implements x402.SchemeNetworkClient for the upto scheme.
type UptoEvmScheme struct {
	signer evm.ClientEvmSigner
	// CapMultiplier scales a single request's Amount into the spending cap
	// signed up front, so the session can absorb several requests before a
	// new Permit is needed. Requirements.Extra["cap"] overrides this when a
	// resource server wants to set an explicit cap instead.
	CapMultiplier int64
	// ValidFor is how long the signed cap remains usable; defaults to 24h,
	// long enough to span a session of repeated small requests.
	ValidFor time.Duration
}

func NewUptoEvmScheme(signer evm.ClientEvmSigner) *UptoEvmScheme {
	return &UptoEvmScheme{signer: signer, CapMultiplier: 20, ValidFor: 24 * time.Hour}
}

func (c *UptoEvmScheme) Scheme() string { return evm.SchemeUpto }

func (c *UptoEvmScheme) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, err
	}

	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return nil, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return nil, err
	}

	cap := requirements.Amount
	if requirements.Extra != nil {
		if explicit, ok := requirements.Extra["cap"].(string); ok && explicit != "" {
			cap = explicit
		}
	}
	if cap == requirements.Amount && c.CapMultiplier > 1 {
		amount, ok := new(big.Int).SetString(requirements.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount: %s", requirements.Amount)
		}
		cap = new(big.Int).Mul(amount, big.NewInt(c.CapMultiplier)).String()
	}

	nonceResult, err := c.signer.ReadContract(ctx, assetInfo.Address, evm.PermitABI, "nonces", common.HexToAddress(c.signer.Address()))
	if err != nil {
		return nil, fmt.Errorf("failed to read permit nonce: %w", err)
	}
	nonce, ok := nonceResult.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonce type %T", nonceResult)
	}

	validFor := c.ValidFor
	if validFor <= 0 {
		validFor = 24 * time.Hour
	}
	deadline := big.NewInt(time.Now().Add(validFor).Unix())

	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if ver, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = ver
		}
	}

	// Spender is pinned to the well-known facilitator address the network
	// config advertises. A deployment with multiple rotating facilitator
	// signers would instead read this from the /supported response's
	// signers map and pick one, the same way the exact ERC-20 fallback
	// flow targets FacilitatorContractAddress rather than an arbitrary
	// signer EOA.
	authorization := evm.PermitAuthorization{
		Owner:    c.signer.Address(),
		Spender:  evm.FacilitatorContractAddress,
		Value:    cap,
		Nonce:    nonce.String(),
		Deadline: deadline.String(),
	}

	signature, err := c.signPermit(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit: %w", err)
	}
	normalized, err := evm.NormalizeSignatureLowS(signature)
	if err != nil {
		return nil, err
	}
	sigHex := "0x" + hex.EncodeToString(normalized)

	sessionID := x402.DeriveSessionID(map[string]string{
		"network":  networkStr,
		"asset":    assetInfo.Address,
		"owner":    authorization.Owner,
		"spender":  authorization.Spender,
		"cap":      authorization.Value,
		"nonce":    authorization.Nonce,
		"deadline": authorization.Deadline,
		"signature": sigHex,
	})

	uptoPayload := &evm.UptoPayload{
		Signature:     sigHex,
		Authorization: authorization,
		SessionID:     sessionID,
		Cap:           cap,
		Deadline:      authorization.Deadline,
	}

	payloadMap := uptoPayload.ToMap()
	partial := x402.PartialPaymentPayload{X402Version: version, Payload: payloadMap}
	return json.Marshal(partial)
}

func (c *UptoEvmScheme) signPermit(
	ctx context.Context,
	authorization evm.PermitAuthorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}
	types := map[string][]evm.TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	nonce, _ := new(big.Int).SetString(authorization.Nonce, 10)
	deadline, _ := new(big.Int).SetString(authorization.Deadline, 10)

	message := map[string]interface{}{
		"owner":    authorization.Owner,
		"spender":  authorization.Spender,
		"value":    value,
		"nonce":    nonce,
		"deadline": deadline,
	}

	return c.signer.SignTypedData(ctx, domain, types, "Permit", message)
}
