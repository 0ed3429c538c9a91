// Package client implements the client side of the Solana exact scheme: it
// builds a single SPL-token transfer instruction for the required amount,
// names the facilitator as fee payer, and signs as the token owner only —
// the facilitator supplies its own fee-payer signature at settlement.
package client

import (
	"context"
	"encoding/base64"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"

	x402 "x402-go"
	"x402-go/mechanisms/svm"
)

// ExactSvmScheme implements x402.SchemeNetworkClient for Solana SPL
// transfers.
type ExactSvmScheme struct {
	signer   svm.ClientSvmSigner
	feePayer solana.PublicKey
}

// NewExactSvmScheme creates a client-side scheme. feePayer is the
// facilitator's fee-payer address (from GetSupported's signers map for
// "solana:*"), so it can be named as the transaction's fee payer and the
// client never needs SOL for gas. Pass the zero PublicKey to have the
// client itself pay the fee instead.
func NewExactSvmScheme(signer svm.ClientSvmSigner, feePayer solana.PublicKey) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer, feePayer: feePayer}
}

func (c *ExactSvmScheme) Scheme() string { return svm.SchemeExact }

// CreatePaymentPayload builds and partially signs an SPL transfer from the
// client's associated token account to payTo's, leaving the fee-payer
// signature slot empty for the facilitator to fill in at settlement.
func (c *ExactSvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements x402.PaymentRequirements,
) (x402.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !svm.IsValidNetwork(networkStr) {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	mint, err := svm.AssetMint(networkStr, requirements.Asset)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	mintPubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid mint address: %w", err)
	}
	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	var amount uint64
	if _, err := fmt.Sscan(requirements.Amount, &amount); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	ownerATA, _, err := associatedtokenaccount.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destATA, _, err := associatedtokenaccount.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	transferIx := token.NewTransferInstruction(amount, ownerATA, destATA, c.signer.Address(), nil).Build()

	feePayer := c.feePayer
	var zeroKey solana.PublicKey
	if feePayer == zeroKey {
		feePayer = c.signer.Address()
	}

	// The blockhash comes from requirements.Extra["blockhash"], so the client
	// signs over the real message the facilitator will submit instead of a
	// placeholder that would invalidate the signature once filled in later.
	// Nothing in this module fills that field in: the SVM facilitator's
	// GetExtra advertises no blockhash and there is no SVM resource-server
	// scheme.
	blockhashStr, _ := requirements.Extra["blockhash"].(string)
	if blockhashStr == "" {
		return x402.PaymentPayload{}, fmt.Errorf("requirements missing blockhash for solana transaction")
	}
	blockhash, err := solana.HashFromBase58(blockhashStr)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transferIx},
		blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return x402.PaymentPayload{
		X402Version: 2,
		Payload: map[string]interface{}{
			"type":        "splTransfer",
			"transaction": base64.StdEncoding.EncodeToString(txBytes),
			"mint":        mint,
			"owner":       c.signer.Address().String(),
		},
	}, nil
}
