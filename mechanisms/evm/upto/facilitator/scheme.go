// Package facilitator implements the facilitator side of the upto scheme:
// verifying a signed spending cap and, at settlement, pulling only what was
// actually accumulated against it via transferFrom — preflighting the
// allowance so a Permit that's already installed (from an earlier
// settlement in the same session) isn't resubmitted needlessly (spec §4.C,
// the "core of the core").
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
)

type UptoEvmScheme struct {
	signer evm.FacilitatorEvmSigner
}

func NewUptoEvmScheme(signer evm.FacilitatorEvmSigner) *UptoEvmScheme {
	return &UptoEvmScheme{signer: signer}
}

func (f *UptoEvmScheme) Scheme() string { return evm.SchemeUpto }

func (f *UptoEvmScheme) GetSigners() []string { return f.signer.GetAddresses() }

func (f *UptoEvmScheme) isOwnSpender(spender string) bool {
	for _, addr := range f.signer.GetAddresses() {
		if strings.EqualFold(addr, spender) {
			return true
		}
	}
	return false
}

func (f *UptoEvmScheme) Verify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402.VerifyResponse, error) {
	payload, requirements, uptoPayload, network, err := f.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	_ = payload

	if !f.isOwnSpender(uptoPayload.Authorization.Spender) {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInvalidSpender, uptoPayload.Authorization.Owner, network, nil)
	}

	deadline, ok := new(big.Int).SetString(uptoPayload.Authorization.Deadline, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoDeadlineExpired, uptoPayload.Authorization.Owner, network, fmt.Errorf("invalid deadline"))
	}
	if deadline.Int64() < time.Now().Unix() {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoDeadlineExpired, uptoPayload.Authorization.Owner, network, nil)
	}

	cap, ok := new(big.Int).SetString(uptoPayload.Authorization.Value, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInsufficientCap, uptoPayload.Authorization.Owner, network, fmt.Errorf("invalid cap"))
	}
	required, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInsufficientCap, uptoPayload.Authorization.Owner, network, fmt.Errorf("invalid required amount"))
	}
	if cap.Cmp(required) < 0 {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInsufficientCap, uptoPayload.Authorization.Owner, network, nil)
	}

	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError("failed_to_get_asset_info", uptoPayload.Authorization.Owner, network, err)
	}

	expectedSessionID := x402.DeriveSessionID(map[string]string{
		"network":   string(requirements.Network),
		"asset":     assetInfo.Address,
		"owner":     uptoPayload.Authorization.Owner,
		"spender":   uptoPayload.Authorization.Spender,
		"cap":       uptoPayload.Authorization.Value,
		"nonce":     uptoPayload.Authorization.Nonce,
		"deadline":  uptoPayload.Authorization.Deadline,
		"signature": uptoPayload.Signature,
	})
	if expectedSessionID != uptoPayload.SessionID {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoSessionMismatch, uptoPayload.Authorization.Owner, network, nil)
	}

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

	signatureBytes, err := evm.HexToBytes(uptoPayload.Signature)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInvalidSignature, uptoPayload.Authorization.Owner, network, err)
	}

	networkConfig, err := evm.GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError("failed_to_get_network_config", uptoPayload.Authorization.Owner, network, err)
	}

	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           networkConfig.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	types := map[string][]evm.TypedDataField{
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
	value, _ := new(big.Int).SetString(uptoPayload.Authorization.Value, 10)
	nonce, _ := new(big.Int).SetString(uptoPayload.Authorization.Nonce, 10)
	message := map[string]interface{}{
		"owner":    uptoPayload.Authorization.Owner,
		"spender":  uptoPayload.Authorization.Spender,
		"value":    value,
		"nonce":    nonce,
		"deadline": deadline,
	}

	valid, err := f.signer.VerifyTypedData(ctx, uptoPayload.Authorization.Owner, domain, types, "Permit", message, signatureBytes)
	if err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError("failed_to_verify_signature", uptoPayload.Authorization.Owner, network, err)
	}
	if !valid {
		return x402.VerifyResponse{}, x402.NewVerifyError(evm.ErrUptoInvalidSignature, uptoPayload.Authorization.Owner, network, nil)
	}

	return x402.VerifyResponse{IsValid: true, Payer: uptoPayload.Authorization.Owner}, nil
}

// Settle pulls requirements.Amount (the accumulated pending spend the
// sweeper substitutes in before calling settle — see x402Facilitator's
// settleSession) from the owner via transferFrom, preflighting the
// allowance so a Permit already installed by a previous settlement in the
// same session isn't resubmitted (spec §9 Open Question: resolved in favor
// of preflighting over always-call-permit).
func (f *UptoEvmScheme) Settle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, version, payloadBytes, requirementsBytes)
	if err != nil {
		if ve, ok := err.(*x402.VerifyError); ok {
			return x402.SettleResponse{}, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return x402.SettleResponse{}, x402.NewSettleError("verification_failed", "", "", "", err)
	}
	if !verifyResp.IsValid {
		return x402.SettleResponse{}, x402.NewSettleError(verifyResp.InvalidReason, verifyResp.Payer, "", "", nil)
	}

	_, requirements, uptoPayload, network, err := f.decode(payloadBytes, requirementsBytes)
	if err != nil {
		return x402.SettleResponse{}, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return x402.SettleResponse{}, x402.NewSettleError("failed_to_get_asset_info", verifyResp.Payer, network, "", err)
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return x402.SettleResponse{}, x402.NewSettleError("invalid_settle_amount", verifyResp.Payer, network, "", fmt.Errorf("invalid amount: %s", requirements.Amount))
	}

	ownerAddr := common.HexToAddress(uptoPayload.Authorization.Owner)
	spenderAddr := common.HexToAddress(uptoPayload.Authorization.Spender)

	allowanceRes, err := f.signer.ReadContract(ctx, assetInfo.Address, evm.PermitABI, "allowance", ownerAddr, spenderAddr)
	if err != nil {
		return x402.SettleResponse{}, x402.NewSettleError("failed_to_read_allowance", verifyResp.Payer, network, "", err)
	}
	allowance, ok := allowanceRes.(*big.Int)
	if !ok {
		return x402.SettleResponse{}, x402.NewSettleError("failed_to_read_allowance", verifyResp.Payer, network, "", fmt.Errorf("unexpected allowance type %T", allowanceRes))
	}

	if allowance.Cmp(amount) < 0 {
		if err := f.installPermit(ctx, assetInfo.Address, uptoPayload); err != nil {
			// Another settlement in this session may have already installed
			// (or exceeded) the needed allowance between our read and this
			// write; re-read before giving up.
			allowanceRes, reErr := f.signer.ReadContract(ctx, assetInfo.Address, evm.PermitABI, "allowance", ownerAddr, spenderAddr)
			if reErr == nil {
				if reAllowance, ok := allowanceRes.(*big.Int); ok && reAllowance.Cmp(amount) >= 0 {
					allowance = reAllowance
				} else {
					return x402.SettleResponse{}, x402.NewSettleError(evm.ErrUptoPermitReverted, verifyResp.Payer, network, "", err)
				}
			} else {
				return x402.SettleResponse{}, x402.NewSettleError(evm.ErrUptoPermitReverted, verifyResp.Payer, network, "", err)
			}
		}
	}

	txHash, err := f.signer.WriteContract(ctx, assetInfo.Address, evm.PermitABI, "transferFrom", ownerAddr, common.HexToAddress(requirements.PayTo), amount)
	if err != nil {
		return x402.SettleResponse{}, x402.NewSettleError(evm.ErrUptoTransferReverted, verifyResp.Payer, network, "", err)
	}
	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return x402.SettleResponse{}, x402.NewSettleError("failed_to_get_receipt", verifyResp.Payer, network, txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return x402.SettleResponse{}, x402.NewSettleError(evm.ErrUptoTransferReverted, verifyResp.Payer, network, txHash, nil)
	}

	return x402.SettleResponse{Success: true, Transaction: txHash, Network: network, Payer: verifyResp.Payer}, nil
}

func (f *UptoEvmScheme) installPermit(ctx context.Context, assetAddr string, payload *evm.UptoPayload) error {
	sigBytes, err := evm.HexToBytes(payload.Signature)
	if err != nil {
		return err
	}
	if len(sigBytes) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	r := sigBytes[0:32]
	s := sigBytes[32:64]
	v := sigBytes[64]
	if v < 27 {
		v += 27
	}

	value, _ := new(big.Int).SetString(payload.Authorization.Value, 10)
	deadline, _ := new(big.Int).SetString(payload.Authorization.Deadline, 10)

	var r32, s32 [32]byte
	copy(r32[:], r)
	copy(s32[:], s)

	_, err = f.signer.WriteContract(ctx, assetAddr, evm.PermitABI, "permit",
		common.HexToAddress(payload.Authorization.Owner),
		common.HexToAddress(payload.Authorization.Spender),
		value, deadline, v, r32, s32)
	return err
}

func (f *UptoEvmScheme) decode(payloadBytes, requirementsBytes []byte) (x402.PaymentPayload, x402.PaymentRequirements, *evm.UptoPayload, x402.Network, error) {
	var payload x402.PaymentPayload
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return payload, requirements, nil, "", err
	}
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return payload, requirements, nil, "", err
	}
	network := requirements.Network
	uptoPayload, err := evm.UptoPayloadFromMap(payload.Payload)
	if err != nil {
		return payload, requirements, nil, network, err
	}
	return payload, requirements, uptoPayload, network, nil
}
