package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// FacilitatorSigner implements svm.FacilitatorSvmSigner: it co-signs as fee
// payer and relays the resulting transaction over a single RPC endpoint,
// mirroring evm.FacilitatorSigner's private-key-plus-client shape.
type FacilitatorSigner struct {
	privateKey solana.PrivateKey
	rpcClient  *rpc.Client
}

// NewFacilitatorSignerFromPrivateKey builds a fee-payer signer from a
// base58-encoded private key and an RPC endpoint.
func NewFacilitatorSignerFromPrivateKey(privateKeyBase58, rpcURL string) (*FacilitatorSigner, error) {
	if privateKeyBase58 == "" {
		return nil, fmt.Errorf("private key must not be empty")
	}
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required for a facilitator signer")
	}
	return &FacilitatorSigner{privateKey: key, rpcClient: rpc.New(rpcURL)}, nil
}

func (s *FacilitatorSigner) Address() solana.PublicKey {
	return s.privateKey.PublicKey()
}

func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.Address()) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to co-sign transaction: %w", err)
	}
	return nil
}

func (s *FacilitatorSigner) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := s.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

// SendAndConfirmTransaction broadcasts tx and waits for it to reach at least
// confirmed commitment, returning its signature as a settlement receipt.
func (s *FacilitatorSigner) SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction) (string, error) {
	sig, err := s.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	status, err := s.rpcClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return sig.String(), fmt.Errorf("failed to confirm transaction %s: %w", sig, err)
	}
	if len(status.Value) == 0 || status.Value[0] == nil {
		return sig.String(), fmt.Errorf("transaction %s not yet confirmed", sig)
	}
	if status.Value[0].Err != nil {
		return sig.String(), fmt.Errorf("transaction %s failed: %v", sig, status.Value[0].Err)
	}
	return sig.String(), nil
}
