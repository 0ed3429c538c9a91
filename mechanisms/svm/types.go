package svm

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSvmSigner is the capability a client-side ExactSvmScheme needs: an
// address to sign as, and the ability to add that address's signature to a
// partially-built transaction (mirrors evm.ClientEvmSigner's narrower
// surface for the Solana signing model).
type ClientSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner is the capability a facilitator-side ExactSvmScheme
// needs: a fee-payer address, the ability to co-sign as fee payer, and RPC
// access to broadcast and confirm the resulting transaction.
type FacilitatorSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction) (string, error)
}
