// Package x402 implements the core of an x402 HTTP Payment Required
// facilitator: scheme registry and dispatch, lifecycle hooks, the upto
// session store and sweeper, and the resource-server middleware pipeline.
// Chain-specific schemes live under mechanisms/; HTTP wiring lives under
// http/.
package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Network is a CAIP-2 chain identifier, e.g. "eip155:8453", "solana:<genesis>".
// The reference component may be "*" to mean "any network in this namespace".
type Network string

// Parse splits the network into its namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether n satisfies pattern, honoring a trailing ":*"
// wildcard on either side (registry entries are typically registered under
// a wildcard; concrete request networks are typically not).
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	nStr, patternStr := string(n), string(pattern)
	if strings.HasSuffix(patternStr, ":*") {
		return strings.HasPrefix(nStr, strings.TrimSuffix(patternStr, "*"))
	}
	if strings.HasSuffix(nStr, ":*") {
		return strings.HasPrefix(patternStr, strings.TrimSuffix(nStr, "*"))
	}
	return false
}

// Price is a user-supplied price specification: a decimal string/float, or
// an already-resolved AssetAmount. SchemeNetworkService.ParsePrice resolves
// it for a given network.
type Price interface{}

// AssetAmount is a resolved (asset, amount) pair in base units.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements is one option a resource server will accept payment
// under, per spec §3.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	MaxAmountRequired string                 `json:"maxAmountRequired,omitempty"` // v1 compatibility alias
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	OutputSchema      map[string]interface{} `json:"outputSchema,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PartialPaymentPayload is what a SchemeNetworkClient produces: the
// x402Version plus the scheme-specific payload, before the server wraps it
// with the accepted requirements, resource info, and extensions.
type PartialPaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentPayload is the complete, signed payment a client attaches to a
// request. Accepted/Payload are the v2 shape; Scheme/Network at the top
// level are populated for v1 wire compatibility.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Scheme      string                 `json:"scheme,omitempty"`
	Network     string                 `json:"network,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the resource a payment is attached to.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Payer       string                 `json:"payer,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the result of a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the result of a settle call.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind is one (version, scheme, network) combination a facilitator
// advertises.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind      `json:"kinds"`
	Signers    map[string][]string  `json:"signers,omitempty"`
	Extensions []string             `json:"extensions,omitempty"`
}

// ResourceConfig is the payment configuration a resource server attaches to
// a protected route.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// SessionStatus is the lifecycle state of an upto Session (spec §3, §5).
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionSettling SessionStatus = "settling"
	SessionClosed   SessionStatus = "closed"
)

// SettlementRecord is the last settlement attempt recorded on a Session.
type SettlementRecord struct {
	AtMs    int64          `json:"atMs"`
	Reason  string         `json:"reason"`
	Receipt SettleResponse `json:"receipt"`
}

// Session is the server-side record of an upto scheme's accumulated spend
// against a single signed cap (spec §3).
type Session struct {
	ID                  string            `json:"id"`
	Cap                 string            `json:"cap"`
	PendingSpent        string            `json:"pendingSpent"`
	SettledTotal        string            `json:"settledTotal"`
	Deadline            int64             `json:"deadline"`
	Status              SessionStatus     `json:"status"`
	LastActivityMs      int64             `json:"lastActivityMs"`
	PaymentPayload       PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements  PaymentRequirements `json:"paymentRequirements"`
	LastSettlement      *SettlementRecord `json:"lastSettlement,omitempty"`
}

// DeepEqual compares two JSON-marshalable values by normalized JSON form,
// without requiring comparable struct values. The facilitator's
// verified-before-settled check does not use it; that check compares
// trackingKey hashes.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}
	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)
	return string(aNormJSON) == string(bNormJSON)
}
