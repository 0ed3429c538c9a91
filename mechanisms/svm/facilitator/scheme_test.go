package facilitator

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"

	x402 "x402-go"
	svmclient "x402-go/mechanisms/svm/client"
	clientsigner "x402-go/signers/svm"
)

const testOwnerPrivateKeyBase58 = "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv7KrQk7h2enu1bSz1tLTjKLuqBm1cUYXL9j3xTmD8wWEqmr"

// fakeFacilitatorSigner implements svm.FacilitatorSvmSigner without any
// network access, for exercising Verify/Settle in isolation.
type fakeFacilitatorSigner struct {
	key solana.PrivateKey
}

func newFakeFacilitatorSigner(t *testing.T) *fakeFacilitatorSigner {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey() failed: %v", err)
	}
	return &fakeFacilitatorSigner{key: key}
}

func (f *fakeFacilitatorSigner) Address() solana.PublicKey { return f.key.PublicKey() }

func (f *fakeFacilitatorSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(f.Address()) {
			return &f.key
		}
		return nil
	})
	return err
}

func (f *fakeFacilitatorSigner) LatestBlockhash(_ context.Context) (solana.Hash, error) {
	return solana.MustHashFromBase58("11111111111111111111111111111111"), nil
}

func (f *fakeFacilitatorSigner) SendAndConfirmTransaction(_ context.Context, tx *solana.Transaction) (string, error) {
	if len(tx.Signatures) == 0 {
		return "", context.DeadlineExceeded
	}
	return tx.Signatures[0].String(), nil
}

func testRequirements(blockhash string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "solana:devnet",
		Asset:   "usdc",
		PayTo:   "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Amount:  "1000000",
		Extra:   map[string]interface{}{"blockhash": blockhash},
	}
}

func buildSignedPayload(t *testing.T, feePayer solana.PublicKey) (x402.PaymentPayload, x402.PaymentRequirements) {
	t.Helper()
	ownerSigner, err := clientsigner.NewClientSignerFromPrivateKey(testOwnerPrivateKeyBase58)
	if err != nil {
		t.Fatalf("NewClientSignerFromPrivateKey() failed: %v", err)
	}
	scheme := svmclient.NewExactSvmScheme(ownerSigner, feePayer)
	requirements := testRequirements("11111111111111111111111111111111")

	payload, err := scheme.CreatePaymentPayload(context.Background(), requirements)
	if err != nil {
		t.Fatalf("CreatePaymentPayload() failed: %v", err)
	}
	payload.Accepted = requirements
	return payload, requirements
}

func TestExactSvmScheme_Scheme(t *testing.T) {
	f := NewExactSvmScheme(newFakeFacilitatorSigner(t))
	if f.Scheme() != "exact" {
		t.Errorf("Scheme() = %q, want exact", f.Scheme())
	}
	if f.CaipFamily() != "solana:*" {
		t.Errorf("CaipFamily() = %q, want solana:*", f.CaipFamily())
	}
}

func TestExactSvmScheme_GetSigners(t *testing.T) {
	signer := newFakeFacilitatorSigner(t)
	f := NewExactSvmScheme(signer)
	signers := f.GetSigners("solana:devnet")
	if len(signers) != 1 || signers[0] != signer.Address().String() {
		t.Errorf("GetSigners() = %v, want [%s]", signers, signer.Address().String())
	}
}

func TestExactSvmScheme_Verify_SchemeMismatch(t *testing.T) {
	f := NewExactSvmScheme(newFakeFacilitatorSigner(t))
	payload, requirements := buildSignedPayload(t, solana.PublicKey{})
	payload.Accepted.Scheme = "upto"

	_, err := f.Verify(context.Background(), payload, requirements)
	if err == nil {
		t.Fatal("expected error for scheme mismatch")
	}
}

func TestExactSvmScheme_Verify_Success(t *testing.T) {
	facilitatorSigner := newFakeFacilitatorSigner(t)
	f := NewExactSvmScheme(facilitatorSigner)

	payload, requirements := buildSignedPayload(t, facilitatorSigner.Address())

	resp, err := f.Verify(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !resp.IsValid {
		t.Error("expected IsValid = true")
	}
}

func TestExactSvmScheme_Verify_InsufficientAmount(t *testing.T) {
	facilitatorSigner := newFakeFacilitatorSigner(t)
	f := NewExactSvmScheme(facilitatorSigner)

	payload, requirements := buildSignedPayload(t, facilitatorSigner.Address())
	requirements.Amount = "999999999"

	_, err := f.Verify(context.Background(), payload, requirements)
	if err == nil {
		t.Fatal("expected error for insufficient amount")
	}
}

func TestExactSvmScheme_Settle_Success(t *testing.T) {
	facilitatorSigner := newFakeFacilitatorSigner(t)
	f := NewExactSvmScheme(facilitatorSigner)

	payload, requirements := buildSignedPayload(t, facilitatorSigner.Address())

	resp, err := f.Settle(context.Background(), payload, requirements)
	if err != nil {
		t.Fatalf("Settle() failed: %v", err)
	}
	if !resp.Success {
		t.Error("expected Success = true")
	}
	if resp.Transaction == "" {
		t.Error("expected non-empty transaction signature")
	}
}
