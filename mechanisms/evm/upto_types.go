package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// SchemeUpto is the scheme identifier for the ERC-2612 spending-cap scheme
// (spec §4.C).
const SchemeUpto = "upto"

// PermitAuthorization is a classic ERC-2612 Permit(owner, spender, value,
// nonce, deadline) authorization signed directly against the token
// contract, granting the facilitator a spending cap rather than
// authorizing a single transfer.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"` // the cap, in base units
	Nonce    string `json:"nonce"` // the token's ERC-2612 nonce, base-10
	Deadline string `json:"deadline"`
}

// UptoPayload is the wire payload for the upto scheme: the permit signature
// plus the client-computed session id the facilitator uses to look up
// accumulated spend (spec §3, §4.C).
type UptoPayload struct {
	Signature     string              `json:"signature"`
	Authorization PermitAuthorization `json:"authorization"`
	SessionID     string              `json:"sessionId"`
	Cap           string              `json:"cap"`
	Deadline      string              `json:"deadline"`
}

func (p *UptoPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"authorization": map[string]interface{}{
			"owner":    p.Authorization.Owner,
			"spender":  p.Authorization.Spender,
			"value":    p.Authorization.Value,
			"nonce":    p.Authorization.Nonce,
			"deadline": p.Authorization.Deadline,
		},
		"sessionId": p.SessionID,
		"cap":       p.Cap,
		"deadline":  p.Deadline,
	}
}

func UptoPayloadFromMap(data map[string]interface{}) (*UptoPayload, error) {
	payload := &UptoPayload{}
	if sig, ok := data["signature"].(string); ok {
		payload.Signature = sig
	}
	if sessionID, ok := data["sessionId"].(string); ok {
		payload.SessionID = sessionID
	}
	if cap, ok := data["cap"].(string); ok {
		payload.Cap = cap
	}
	if deadline, ok := data["deadline"].(string); ok {
		payload.Deadline = deadline
	}
	auth, ok := data["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing authorization in upto payload")
	}
	if v, ok := auth["owner"].(string); ok {
		payload.Authorization.Owner = v
	}
	if v, ok := auth["spender"].(string); ok {
		payload.Authorization.Spender = v
	}
	if v, ok := auth["value"].(string); ok {
		payload.Authorization.Value = v
	}
	if v, ok := auth["nonce"].(string); ok {
		payload.Authorization.Nonce = v
	}
	if v, ok := auth["deadline"].(string); ok {
		payload.Authorization.Deadline = v
	}
	return payload, nil
}

// PermitABI is the minimal ERC-2612 surface the upto scheme exercises:
// permit to install the allowance, nonces/allowance to preflight it, and
// transferFrom to pull funds once the cap is in place.
var PermitABI = []byte(`[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`)

// Upto-scheme error reasons (spec §7). Named after the Permit2 error set
// the rest of the x402 Go SDK uses for its fallback-settlement flow, but
// scoped to plain ERC-2612 semantics: there is no witness/spender-router
// indirection here, only owner -> facilitator directly on the token.
const (
	ErrUptoInvalidSpender       = "invalid_upto_payload_spender_mismatch"
	ErrUptoDeadlineExpired      = "invalid_upto_payload_deadline_expired"
	ErrUptoInsufficientCap      = "invalid_upto_payload_insufficient_cap"
	ErrUptoTokenMismatch        = "invalid_upto_payload_token_mismatch"
	ErrUptoInvalidSignature     = "invalid_upto_payload_signature"
	ErrUptoSessionMismatch      = "invalid_upto_payload_session_mismatch"
	ErrUptoAllowanceInsufficient = "upto_settle_allowance_insufficient_after_permit"
	ErrUptoPermitReverted       = "upto_settle_permit_reverted"
	ErrUptoTransferReverted     = "upto_settle_transfer_reverted"
)

// secp256k1HalfOrder is n/2 for the secp256k1 curve order, the boundary
// EIP-2 uses to define the canonical "low-s" signature form.
var secp256k1HalfOrder = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// NormalizeSignatureLowS rewrites an (r, s, v) signature to its canonical
// low-s form if it isn't already: s' = n - s, v' = v ^ 1. Both forms verify
// against the same message, so without normalization two byte-distinct but
// equivalent signatures over the same authorization would derive different
// session ids (spec §9 Open Question: resolved by normalizing before
// hashing into the session id).
func NormalizeSignatureLowS(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	out := make([]byte, 65)
	copy(out, sig)

	s := new(big.Int).SetBytes(out[32:64])
	if s.Cmp(secp256k1HalfOrder) > 0 {
		n := crypto.S256().Params().N
		newS := new(big.Int).Sub(n, s)
		sBytes := newS.Bytes()
		var sPadded [32]byte
		copy(sPadded[32-len(sBytes):], sBytes)
		copy(out[32:64], sPadded[:])
		out[64] ^= 1
	}
	return out, nil
}
