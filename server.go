package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// x402ResourceServer drives the payment-required middleware pipeline (spec
// §4.G): building payment requirements for a route, matching an incoming
// payment against them, and verifying/settling through a FacilitatorClient
// (in-process or over HTTP).
type x402ResourceServer struct {
	mu sync.RWMutex

	facilitator FacilitatorClient
	schemes     map[Network][]SchemeNetworkService
	moneyParsers []MoneyParser
	paywall     PaywallProvider

	supportedCache *SupportedCache

	// sessionStore lets the middleware create/update upto sessions
	// in-band, ahead of whatever settles them later (the sweeper, when
	// the facilitator is in-process; nothing, when it's remote and owns
	// its own store).
	sessionStore SessionStore
}

// ResourceServerOption configures an x402ResourceServer at construction.
type ResourceServerOption func(*x402ResourceServer)

func WithSchemeServer(network Network, service SchemeNetworkService) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.schemes[network] = append(s.schemes[network], service)
	}
}

func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *x402ResourceServer) { s.facilitator = client }
}

func WithMoneyParser(parser MoneyParser) ResourceServerOption {
	return func(s *x402ResourceServer) { s.moneyParsers = append(s.moneyParsers, parser) }
}

func WithPaywallProvider(p PaywallProvider) ResourceServerOption {
	return func(s *x402ResourceServer) { s.paywall = p }
}

func WithServerSessionStore(store SessionStore) ResourceServerOption {
	return func(s *x402ResourceServer) { s.sessionStore = store }
}

func Newx402ResourceServer(opts ...ResourceServerOption) *x402ResourceServer {
	s := &x402ResourceServer{
		schemes:        make(map[Network][]SchemeNetworkService),
		supportedCache: NewSupportedCache(5 * time.Minute),
		sessionStore:   NewInMemorySessionStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SupportedCache caches the facilitator's /supported advertisement so the
// middleware doesn't round-trip on every request (spec §4.G).
type SupportedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	data    SupportedResponse
	expires time.Time
}

func NewSupportedCache(ttl time.Duration) *SupportedCache {
	return &SupportedCache{ttl: ttl}
}

func (c *SupportedCache) Get(ctx context.Context, fetch func(context.Context) (SupportedResponse, error)) (SupportedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.expires) {
		return c.data, nil
	}
	resp, err := fetch(ctx)
	if err != nil {
		if !c.expires.IsZero() {
			// Serve stale rather than fail outright on a transient facilitator hiccup.
			return c.data, nil
		}
		return SupportedResponse{}, err
	}
	c.data = resp
	c.expires = time.Now().Add(c.ttl)
	return resp, nil
}

func (s *x402ResourceServer) findService(network Network, scheme string) (SchemeNetworkService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if services, ok := s.schemes[network]; ok {
		for _, svc := range services {
			if svc.Scheme() == scheme {
				return svc, nil
			}
		}
	}
	for registered, services := range s.schemes {
		if network.Match(registered) {
			for _, svc := range services {
				if svc.Scheme() == scheme {
					return svc, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no %s service registered for network %s", scheme, network)
}

func (s *x402ResourceServer) parsePrice(price Price, network Network, scheme string) (AssetAmount, error) {
	for _, parser := range s.moneyParsers {
		if amount, err := parser(toFloat(price), network); err == nil && amount != nil {
			return *amount, nil
		}
	}
	svc, err := s.findService(network, scheme)
	if err != nil {
		return AssetAmount{}, err
	}
	return svc.ParsePrice(price, network)
}

func toFloat(price Price) float64 {
	switch v := price.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v), "$"), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// BuildPaymentRequirements expands one route's ResourceConfig into a
// PaymentRequirements ready to go into a 402 body, consulting the
// facilitator's current /supported advertisement to pick a concrete scheme
// kind (including any scheme-specific `extra` info) and the registered
// SchemeNetworkService to price and enhance it.
func (s *x402ResourceServer) BuildPaymentRequirements(ctx context.Context, resourceURL string, config ResourceConfig) (PaymentRequirements, error) {
	supported, err := s.supportedCache.Get(ctx, s.facilitator.GetSupported)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("fetching supported kinds: %w", err)
	}

	var matchedKind *SupportedKind
	for i := range supported.Kinds {
		kind := supported.Kinds[i]
		if kind.Scheme == config.Scheme && Network(config.Network).Match(kind.Network) {
			matchedKind = &kind
			break
		}
	}
	if matchedKind == nil {
		return PaymentRequirements{}, NewPaymentError(ErrCodeNoMatchingKind, fmt.Sprintf("facilitator does not support scheme %s on network %s", config.Scheme, config.Network), nil)
	}

	amount, err := s.parsePrice(config.Price, config.Network, config.Scheme)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("parsing price: %w", err)
	}

	timeout := config.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = 60
	}

	requirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             amount.Asset,
		Amount:            amount.Amount,
		MaxAmountRequired: amount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: timeout,
		Resource:          resourceURL,
	}

	svc, err := s.findService(config.Network, config.Scheme)
	if err != nil {
		return requirements, nil
	}
	return svc.EnhancePaymentRequirements(ctx, requirements, *matchedKind, nil)
}

// FindMatchingRequirements picks the PaymentRequirements a client's payload
// claims to satisfy out of a route's accepted options.
func FindMatchingRequirements(payload PaymentPayload, accepts []PaymentRequirements) (PaymentRequirements, error) {
	scheme, network := payload.Scheme, payload.Network
	if scheme == "" {
		scheme = payload.Accepted.Scheme
	}
	if network == "" {
		network = string(payload.Accepted.Network)
	}
	for _, req := range accepts {
		if req.Scheme == scheme && string(req.Network) == network {
			return req, nil
		}
	}
	return PaymentRequirements{}, fmt.Errorf("no matching payment requirements for scheme=%s network=%s", scheme, network)
}

// VerifyPayment calls the facilitator's Verify and returns its structured
// result. Hook-aborted or mechanism-rejected verifications come back as a
// failed VerifyResponse with a nil error — only transport/marshaling
// failures are returned as Go errors (spec §4.G, §7).
func (s *x402ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return VerifyResponse{}, err
	}
	reqBytes, err := json.Marshal(requirements)
	if err != nil {
		return VerifyResponse{}, err
	}
	return s.facilitator.Verify(ctx, payloadBytes, reqBytes)
}

// SettlePayment calls the facilitator's Settle and returns its structured
// result. As with VerifyPayment, hook-aborted or mechanism-rejected
// settlements come back as a failed SettleResponse with a nil error — only
// transport/marshaling failures are returned as Go errors.
func (s *x402ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return SettleResponse{}, err
	}
	reqBytes, err := json.Marshal(requirements)
	if err != nil {
		return SettleResponse{}, err
	}
	return s.facilitator.Settle(ctx, payloadBytes, reqBytes)
}

// ProcessPaymentRequest is the framework-agnostic core of the resource-
// server middleware (spec §4.G): given the decoded payment header (if any)
// and the route's accepted requirements, it returns either a PaymentRequired
// to send back as a 402, or a verified PaymentPayload + matched
// PaymentRequirements ready to settle (or, for upto, to track against an
// open session instead of settling immediately).
func (s *x402ResourceServer) ProcessPaymentRequest(
	ctx context.Context,
	resource *ResourceInfo,
	accepts []PaymentRequirements,
	paymentHeader string,
) (*PaymentRequired, *PaymentPayload, *PaymentRequirements, error) {
	required := &PaymentRequired{X402Version: ProtocolVersion, Accepts: accepts, Resource: resource}

	if paymentHeader == "" {
		return required, nil, nil, nil
	}

	var payload PaymentPayload
	if err := json.Unmarshal([]byte(paymentHeader), &payload); err != nil {
		required.Error = ErrInvalidPayload
		return required, nil, nil, nil
	}

	matched, err := FindMatchingRequirements(payload, accepts)
	if err != nil {
		required.Error = "no matching payment requirements for submitted payload"
		return required, nil, nil, nil
	}

	verifyResp, err := s.VerifyPayment(ctx, payload, matched)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("verify call failed: %w", err)
	}
	if !verifyResp.IsValid {
		required.Error = verifyResp.InvalidReason
		required.Payer = verifyResp.Payer
		return required, nil, nil, nil
	}

	if matched.Scheme == "upto" {
		if err := s.trackUptoUsage(ctx, payload, matched); err != nil {
			required.Error = err.Error()
			return required, nil, nil, nil
		}
	}

	return nil, &payload, &matched, nil
}

// trackUptoUsage opens or updates the session backing an upto payload
// in-band with the request, ahead of the asynchronous settlement the
// sweeper (or an explicit close) performs later (spec §4.C, §4.D).
func (s *x402ResourceServer) trackUptoUsage(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) error {
	sessionID, _ := payload.Payload["sessionId"].(string)
	if sessionID == "" {
		return fmt.Errorf("upto payload missing sessionId")
	}

	session, ok, err := s.sessionStore.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	nowMs := time.Now().UnixMilli()
	if !ok {
		cap, _ := payload.Payload["cap"].(string)
		deadline, _ := payload.Payload["deadline"].(float64)
		session = &Session{
			ID:                  sessionID,
			Cap:                 cap,
			PendingSpent:        "0",
			SettledTotal:        "0",
			Deadline:            int64(deadline),
			Status:              SessionOpen,
			LastActivityMs:      nowMs,
			PaymentPayload:      payload,
			PaymentRequirements: requirements,
		}
	}
	if session.Status != SessionOpen {
		return fmt.Errorf("%s", ErrSessionClosed)
	}

	spent, err := addAmount(session.PendingSpent, requirements.Amount)
	if err != nil {
		return err
	}
	capInt, err := parseAmount(session.Cap)
	if err == nil {
		spentInt, _ := parseAmount(spent)
		if spentInt.Cmp(capInt) > 0 {
			return fmt.Errorf("%s", ErrCapExhausted)
		}
	}

	session.PendingSpent = spent
	session.LastActivityMs = nowMs
	session.PaymentPayload = payload
	session.PaymentRequirements = requirements
	return s.sessionStore.Set(ctx, session)
}
