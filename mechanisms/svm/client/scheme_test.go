package client

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"

	x402 "x402-go"
	"x402-go/signers/svm"
)

const testPrivateKeyBase58 = "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv7KrQk7h2enu1bSz1tLTjKLuqBm1cUYXL9j3xTmD8wWEqmr"

func testRequirements(t *testing.T, extra map[string]interface{}) x402.PaymentRequirements {
	t.Helper()
	return x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "solana:devnet",
		Asset:   "usdc",
		PayTo:   "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Amount:  "1000000",
		Extra:   extra,
	}
}

func TestExactSvmScheme_Scheme(t *testing.T) {
	signer, err := svm.NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := NewExactSvmScheme(signer, solana.PublicKey{})
	if scheme.Scheme() != "exact" {
		t.Errorf("Scheme() = %q, want %q", scheme.Scheme(), "exact")
	}
}

func TestExactSvmScheme_CreatePaymentPayload_MissingBlockhash(t *testing.T) {
	signer, err := svm.NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := NewExactSvmScheme(signer, solana.PublicKey{})

	_, err = scheme.CreatePaymentPayload(context.Background(), testRequirements(t, nil))
	if err == nil {
		t.Fatal("expected error when requirements.Extra lacks a blockhash")
	}
}

func TestExactSvmScheme_CreatePaymentPayload_InvalidNetwork(t *testing.T) {
	signer, err := svm.NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := NewExactSvmScheme(signer, solana.PublicKey{})

	requirements := testRequirements(t, map[string]interface{}{"blockhash": "11111111111111111111111111111111"})
	requirements.Network = "solana:testnet"

	_, err = scheme.CreatePaymentPayload(context.Background(), requirements)
	if err == nil {
		t.Fatal("expected error for unsupported network")
	}
}

func TestExactSvmScheme_CreatePaymentPayload_Success(t *testing.T) {
	signer, err := svm.NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := NewExactSvmScheme(signer, solana.PublicKey{})

	requirements := testRequirements(t, map[string]interface{}{"blockhash": "11111111111111111111111111111111"})

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	if err != nil {
		t.Fatalf("CreatePaymentPayload() failed: %v", err)
	}
	if payload.X402Version != 2 {
		t.Errorf("X402Version = %d, want 2", payload.X402Version)
	}
	payloadMap := payload.Payload
	if payloadMap["type"] != "splTransfer" {
		t.Errorf("type = %v, want splTransfer", payloadMap["type"])
	}
	if payloadMap["transaction"] == "" {
		t.Error("transaction field is empty")
	}
	if payloadMap["owner"] != signer.Address().String() {
		t.Errorf("owner = %v, want %v", payloadMap["owner"], signer.Address().String())
	}
}

func TestExactSvmScheme_FeePayerDefaultsToSigner(t *testing.T) {
	signer, err := svm.NewClientSignerFromPrivateKey(testPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := NewExactSvmScheme(signer, solana.PublicKey{})
	if scheme.feePayer != (solana.PublicKey{}) {
		t.Fatal("expected zero-value feePayer to be stored verbatim on construction")
	}
}
