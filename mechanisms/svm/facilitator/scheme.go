// Package facilitator implements the facilitator side of the Solana exact
// scheme: it validates the payer-signed transfer against requirements, then
// co-signs as fee payer and relays the transaction.
package facilitator

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"

	x402 "x402-go"
	"x402-go/mechanisms/svm"
)

// ExactSvmScheme implements the struct-based facilitator half of the
// Solana exact scheme; mechanisms/svm/facilitator/raw.go adapts it to
// x402.SchemeNetworkFacilitator's raw-bytes interface.
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
}

func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer}
}

func (f *ExactSvmScheme) Scheme() string { return svm.SchemeExact }

func (f *ExactSvmScheme) CaipFamily() string { return "solana:*" }

func (f *ExactSvmScheme) GetExtra(_ x402.Network) map[string]interface{} { return nil }

func (f *ExactSvmScheme) GetSigners(_ x402.Network) []string {
	return []string{f.signer.Address().String()}
}

// decodedTransfer is what Verify extracts from the client's transaction for
// comparison against requirements.
type decodedTransfer struct {
	tx     *solana.Transaction
	owner  solana.PublicKey
	amount uint64
	source solana.PublicKey
	dest   solana.PublicKey
}

func (f *ExactSvmScheme) decode(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*decodedTransfer, error) {
	txEncoded, _ := payload.Payload["transaction"].(string)
	if txEncoded == "" {
		return nil, fmt.Errorf("missing transaction")
	}
	rawTx, err := base64.StdEncoding.DecodeString(txEncoded)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if len(tx.Message.Instructions) != 1 {
		return nil, fmt.Errorf("expected exactly one instruction, got %d", len(tx.Message.Instructions))
	}

	networkStr := string(requirements.Network)
	mint, err := svm.AssetMint(networkStr, requirements.Asset)
	if err != nil {
		return nil, err
	}
	mintPubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo: %w", err)
	}

	owner, _ := solana.PublicKeyFromBase58(payload.Payload["owner"].(string))
	destATA, _, err := associatedtokenaccount.FindAssociatedTokenAddress(payTo, mintPubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination account: %w", err)
	}
	sourceATA, _, err := associatedtokenaccount.FindAssociatedTokenAddress(owner, mintPubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source account: %w", err)
	}

	ix := tx.Message.Instructions[0]
	accounts, err := ix.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instruction accounts: %w", err)
	}
	decodedIx, err := token.DecodeInstruction(accounts, ix.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token instruction: %w", err)
	}
	transfer, ok := decodedIx.Impl.(*token.Transfer)
	if !ok {
		return nil, fmt.Errorf("instruction is not a token transfer")
	}
	if !transfer.GetDestinationAccount().PublicKey.Equals(destATA) {
		return nil, fmt.Errorf("transfer destination does not match payTo")
	}

	return &decodedTransfer{
		tx:     tx,
		owner:  owner,
		amount: *transfer.Amount,
		source: sourceATA,
		dest:   destATA,
	}, nil
}

// Verify checks the payer's signature and that the transfer matches
// requirements (mint, destination, amount) without broadcasting anything.
func (f *ExactSvmScheme) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := requirements.Network

	if payload.Accepted.Scheme != svm.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	decoded, err := f.decode(payload, requirements)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}

	var requiredAmount uint64
	if _, err := fmt.Sscan(requirements.Amount, &requiredAmount); err != nil {
		return nil, x402.NewVerifyError("invalid_required_amount", "", network, err)
	}
	if decoded.amount < requiredAmount {
		return nil, x402.NewVerifyError("insufficient_amount", decoded.owner.String(), network, nil)
	}

	if err := decoded.tx.VerifySignatures(); err != nil {
		// The fee payer's signature slot is still empty at this point;
		// VerifySignatures only needs to confirm the owner's signature is
		// present and valid over the message as signed.
		if !hasValidOwnerSignature(decoded.tx, decoded.owner) {
			return nil, x402.NewVerifyError("invalid_signature", decoded.owner.String(), network, err)
		}
	}

	return &x402.VerifyResponse{IsValid: true, Payer: decoded.owner.String()}, nil
}

// Settle co-signs as fee payer and broadcasts the transaction.
func (f *ExactSvmScheme) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := requirements.Network

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if ok := asVerifyError(err, ve); ok {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	decoded, err := f.decode(payload, requirements)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	if err := f.signer.SignTransaction(ctx, decoded.tx); err != nil {
		return nil, x402.NewSettleError("failed_to_sign", verifyResp.Payer, network, "", err)
	}

	signature, err := f.signer.SendAndConfirmTransaction(ctx, decoded.tx)
	if err != nil {
		return nil, x402.NewSettleError("failed_to_submit_transaction", verifyResp.Payer, network, signature, err)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: signature,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}

func hasValidOwnerSignature(tx *solana.Transaction, owner solana.PublicKey) bool {
	for i, key := range tx.Message.AccountKeys {
		if i >= len(tx.Signatures) {
			break
		}
		if key.Equals(owner) {
			msg, err := tx.Message.MarshalBinary()
			if err != nil {
				return false
			}
			return tx.Signatures[i].Verify(owner, msg)
		}
	}
	return false
}

func asVerifyError(err error, target *x402.VerifyError) bool {
	ve, ok := err.(*x402.VerifyError)
	if !ok {
		return false
	}
	*target = *ve
	return true
}
