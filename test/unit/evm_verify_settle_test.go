package unit_test

import (
	"context"
	"math/big"
	"testing"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
	evmclient "x402-go/mechanisms/evm/exact/client"
	evmfacilitator "x402-go/mechanisms/evm/exact/facilitator"
)

// TestEVMVerifyAndSettle tests the Verify and Settle logic with mocks
func TestEVMVerifyAndSettle(t *testing.T) {
	ctx := context.Background()

	// Setup client
	// Address corresponds to hardcoded private key in mockClientEvmSigner
	expectedAddress := "0x14791697260E4c9A71f18484C9f997B308e59325"
	clientSigner := &mockClientEvmSigner{
		address: expectedAddress,
	}
	evmClient := evmclient.NewExactEvmScheme(clientSigner)

	// Setup facilitator
	facilitatorSigner := newMockFacilitatorEvmSigner()
	// Populate balance for client
	facilitatorSigner.balances[expectedAddress+":0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"] = big.NewInt(2000000)

	config := &evmfacilitator.ExactEvmSchemeConfig{}
	evmFacilitator := evmfacilitator.NewExactEvmScheme(facilitatorSigner, config)

	// Create payment requirement
	req := x402.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: "eip155:8453",
		Asset:   "erc20:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC on Base
		Amount:  "1000000",                                          // 1 USDC
		PayTo:   "0xabcdef1234567890123456789012345678901234",
	}

	// Create payload directly via the scheme (bypassing the client's
	// raw-bytes dispatch, which isn't needed to exercise Verify/Settle)
	payload, err := evmClient.CreatePaymentPayload(ctx, req)
	if err != nil {
		t.Fatalf("Failed to create payload: %v", err)
	}

	// Verify
	verifyResp, err := evmFacilitator.Verify(ctx, payload, req)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !verifyResp.IsValid {
		t.Error("Expected valid verification")
	}

	if verifyResp.Payer != clientSigner.Address() {
		t.Errorf("Expected payer %s, got %s", clientSigner.Address(), verifyResp.Payer)
	}

	// Settle
	settleResp, err := evmFacilitator.Settle(ctx, payload, req)
	if err != nil {
		// mockFacilitatorEvmSigner.WriteContract succeeds, and the exact
		// facilitator checks the client's signature by ECDSA recovery in
		// VerifyUniversalSignature (the mock's VerifyTypedData is not used),
		// so settle is expected to succeed.
		t.Fatalf("Settle failed: %v", err)
	}

	if !settleResp.Success {
		t.Error("Expected success settlement")
	}

	if settleResp.Transaction == "" {
		t.Error("Expected transaction hash")
	}
}
