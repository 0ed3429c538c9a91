package facilitator

import (
	"context"
	"encoding/json"

	x402 "x402-go"
)

// RawScheme adapts ExactEvmScheme's struct-based Verify/Settle to the
// raw-bytes x402.SchemeNetworkFacilitator interface (see client.RawScheme).
type RawScheme struct {
	*ExactEvmScheme
}

func Wrap(scheme *ExactEvmScheme) *RawScheme {
	return &RawScheme{ExactEvmScheme: scheme}
}

func (r *RawScheme) Verify(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402.VerifyResponse, error) {
	var payload x402.PaymentPayload
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402.VerifyResponse{}, err
	}
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402.VerifyResponse{}, err
	}
	resp, err := r.ExactEvmScheme.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	return *resp, nil
}

func (r *RawScheme) Settle(ctx context.Context, version int, payloadBytes, requirementsBytes []byte) (x402.SettleResponse, error) {
	var payload x402.PaymentPayload
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402.SettleResponse{}, err
	}
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402.SettleResponse{}, err
	}
	resp, err := r.ExactEvmScheme.Settle(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	return *resp, nil
}

// GetSigners satisfies x402.SignerAdvertiser for GetSupported's signers map.
func (r *RawScheme) GetSigners() []string {
	return r.ExactEvmScheme.GetSigners("")
}
