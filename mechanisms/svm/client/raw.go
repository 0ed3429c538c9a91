package client

import (
	"context"
	"encoding/json"

	x402 "x402-go"
)

// RawScheme adapts ExactSvmScheme's struct-based CreatePaymentPayload to the
// raw-bytes x402.SchemeNetworkClient interface (see evm/exact/client.RawScheme).
type RawScheme struct {
	*ExactSvmScheme
}

func Wrap(scheme *ExactSvmScheme) *RawScheme {
	return &RawScheme{ExactSvmScheme: scheme}
}

func (r *RawScheme) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, err
	}
	payload, err := r.ExactSvmScheme.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}
