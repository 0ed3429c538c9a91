package client

import (
	"context"
	"encoding/json"

	x402 "x402-go"
)

// RawScheme adapts ExactEvmScheme's struct-based CreatePaymentPayload to the
// raw-bytes x402.SchemeNetworkClient interface the core registry dispatches
// on, so version detection happens once at the registry boundary instead of
// in every mechanism.
type RawScheme struct {
	*ExactEvmScheme
}

// Wrap adapts an already-constructed ExactEvmScheme for registry use.
func Wrap(scheme *ExactEvmScheme) *RawScheme {
	return &RawScheme{ExactEvmScheme: scheme}
}

func (r *RawScheme) CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) ([]byte, error) {
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, err
	}
	payload, err := r.ExactEvmScheme.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}
