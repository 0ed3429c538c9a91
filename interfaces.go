package x402

import "context"

// MoneyParser converts a decimal price amount to an AssetAmount for a given
// network. Multiple parsers may be registered on a server and are tried in
// order; the scheme's own ParsePrice is always the final fallback.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// SchemeNetworkClient is implemented by client-side payment mechanisms: it
// signs a payment for a given set of requirements.
type SchemeNetworkClient interface {
	// Scheme returns the payment scheme identifier (e.g. "exact", "upto").
	Scheme() string

	// CreatePaymentPayload creates a signed payment for the given
	// requirements. Receives/returns raw JSON so the core can dispatch on
	// protocol version before any mechanism-specific unmarshaling.
	CreatePaymentPayload(ctx context.Context, version int, requirementsBytes []byte) (payloadBytes []byte, err error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms: it verifies and settles payments.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// Verify checks whether a payment is valid without executing it.
	Verify(ctx context.Context, version int, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)

	// Settle executes the payment on-chain (or, for upto, records it for
	// batch settlement — see mechanisms/evm/upto).
	Settle(ctx context.Context, version int, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)
}

// SchemeNetworkService is implemented by server-side payment mechanisms: it
// builds and enriches PaymentRequirements for a route.
type SchemeNetworkService interface {
	Scheme() string

	// ParsePrice converts a user-friendly price to asset/amount format.
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements adds scheme-specific fields (e.g. EIP-712
	// domain info) to requirements before they are advertised in a 402 body.
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// FacilitatorClient is how a resource server (or its middleware) talks to a
// facilitator, whether in-process or over HTTP.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// SessionStore is the pluggable mapping from session-id to Session (spec
// §4.D). Implementations MUST provide at-least-once linearizable Set
// semantics: once Set returns, a subsequent Get for the same id observes
// the new value. No cross-id transactions are required.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Set(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	// Entries returns a snapshot of all sessions; iteration order is not
	// required to be stable. Used by the sweeper.
	Entries(ctx context.Context) ([]*Session, error)
}

// PaywallProvider renders an HTML 402 body for clients that prefer
// text/html over application/json (spec §4.G step 2).
type PaywallProvider interface {
	RenderPaywall(ctx context.Context, required PaymentRequired) ([]byte, error)
}

// HTTPAdapter is the capability a framework-specific middleware adapter
// must provide so a single core middleware engine can drive the protocol
// regardless of HTTP framework (spec §9 design note).
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetQueryParam(name string) string
	GetBody() ([]byte, error)
}
