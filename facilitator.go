package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"x402-go/types"
)

// SignerAdvertiser is implemented by mechanisms that can enumerate the
// facilitator signer addresses active for a scheme, for inclusion in
// GetSupported's signers map (spec §4.A).
type SignerAdvertiser interface {
	GetSigners() []string
}

// ExtraAdvertiser is implemented by mechanisms that want to attach an
// `extra` blob to their SupportedKind entry.
type ExtraAdvertiser interface {
	GetExtra() map[string]interface{}
}

// x402Facilitator wraps the scheme registry (spec §4.A) with lifecycle
// hooks (spec §4.F) and the upto settlement transition.
type x402Facilitator struct {
	mu sync.RWMutex

	// version -> network -> scheme -> facilitator implementation
	schemes map[int]map[Network]map[string]SchemeNetworkFacilitator

	onBeforeVerifyHooks  []OnBeforeVerifyHook
	onAfterVerifyHooks   []OnAfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook

	onBeforeSettleHooks  []OnBeforeSettleHook
	onAfterSettleHooks   []OnAfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook

	// verifiedTracking records payloads that have passed verify so settle
	// can enforce "verified before settled" (spec §3 invariant 5). Keyed
	// by a canonical hash of (payload, requirements).
	verifiedTracking sync.Map

	store   SessionStore
	logger  Logger
}

func Newx402Facilitator(opts ...FacilitatorOption) *x402Facilitator {
	f := &x402Facilitator{
		schemes: make(map[int]map[Network]map[string]SchemeNetworkFacilitator),
		store:   NewInMemorySessionStore(),
		logger:  NopLogger{},
	}
	for _, opt := range opts {
		opt(f)
	}
	// The default onBeforeSettle hook enforces the verified-before-settled
	// invariant; it runs first, ahead of any user-registered hooks.
	f.onBeforeSettleHooks = append([]OnBeforeSettleHook{f.defaultBeforeSettle}, f.onBeforeSettleHooks...)
	return f
}

// FacilitatorOption configures an x402Facilitator at construction time.
type FacilitatorOption func(*x402Facilitator)

func WithSessionStore(store SessionStore) FacilitatorOption {
	return func(f *x402Facilitator) { f.store = store }
}

func WithLogger(logger Logger) FacilitatorOption {
	return func(f *x402Facilitator) { f.logger = logger }
}

func (f *x402Facilitator) RegisterScheme(network Network, impl SchemeNetworkFacilitator) *x402Facilitator {
	return f.registerScheme(ProtocolVersion, network, impl)
}

func (f *x402Facilitator) RegisterSchemeV1(network Network, impl SchemeNetworkFacilitator) *x402Facilitator {
	return f.registerScheme(ProtocolVersionV1, network, impl)
}

func (f *x402Facilitator) registerScheme(version int, network Network, impl SchemeNetworkFacilitator) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.schemes[version] == nil {
		f.schemes[version] = make(map[Network]map[string]SchemeNetworkFacilitator)
	}
	if f.schemes[version][network] == nil {
		f.schemes[version][network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[version][network][impl.Scheme()] = impl
	return f
}

func (f *x402Facilitator) OnBeforeVerify(hook OnBeforeVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBeforeVerifyHooks = append(f.onBeforeVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterVerify(hook OnAfterVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAfterVerifyHooks = append(f.onAfterVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnVerifyFailure(hook OnVerifyFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *x402Facilitator) OnBeforeSettle(hook OnBeforeSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBeforeSettleHooks = append(f.onBeforeSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterSettle(hook OnAfterSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAfterSettleHooks = append(f.onAfterSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnSettleFailure(hook OnSettleFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// Store returns the facilitator's session store, for use by a sweeper or
// by HTTP handlers exposing a manual /upto/close endpoint.
func (f *x402Facilitator) Store() SessionStore { return f.store }

func trackingKey(payload PaymentPayload, requirements PaymentRequirements) string {
	payloadJSON, _ := json.Marshal(payload)
	reqJSON, _ := json.Marshal(requirements)
	sum := sha256.Sum256(append(payloadJSON, reqJSON...))
	return hex.EncodeToString(sum[:])
}

func (f *x402Facilitator) defaultBeforeSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*BeforeHookResult, error) {
	key := trackingKey(payload, requirements)
	if _, ok := f.verifiedTracking.Load(key); !ok {
		return &BeforeHookResult{Abort: true, Reason: "settle requested for a payload that was not previously verified"}, nil
	}
	return nil, nil
}

func (f *x402Facilitator) findFacilitator(version int, scheme, network string) (SchemeNetworkFacilitator, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	versionSchemes, ok := f.schemes[version]
	if !ok {
		return nil, false
	}
	if schemes, ok := versionSchemes[Network(network)]; ok {
		if impl, ok := schemes[scheme]; ok {
			return impl, true
		}
	}
	for registered, schemes := range versionSchemes {
		if Network(network).Match(registered) {
			if impl, ok := schemes[scheme]; ok {
				return impl, true
			}
		}
	}
	return nil, false
}

// Verify dispatches a raw payload+requirements pair to the matching scheme,
// running the before/after/failure hook chain around it (spec §4.F).
func (f *x402Facilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (VerifyResponse, error) {
	var payload PaymentPayload
	var requirements PaymentRequirements
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return VerifyResponse{}, fmt.Errorf("invalid payment payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return VerifyResponse{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	version := payload.X402Version
	if version == 0 {
		version = ProtocolVersion
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, payloadBytes)
	if err != nil {
		scheme, network = requirements.Scheme, string(requirements.Network)
	}

	for _, hook := range f.beforeVerifyHooksSnapshot() {
		result, err := hook(ctx, payload, requirements)
		if err != nil || (result != nil && result.Abort) {
			reason := "verify aborted by hook"
			if result != nil && result.Reason != "" {
				reason = result.Reason
			}
			resp := VerifyResponse{IsValid: false, InvalidReason: reason}
			f.runVerifyFailureHooks(ctx, payload, requirements, resp, err)
			return resp, nil
		}
	}

	impl, ok := f.findFacilitator(version, scheme, network)
	if !ok {
		resp := VerifyResponse{IsValid: false, InvalidReason: ErrUnsupportedScheme}
		f.runVerifyFailureHooks(ctx, payload, requirements, resp, nil)
		return resp, nil
	}

	resp, err := impl.Verify(ctx, version, payloadBytes, requirementsBytes)
	if err != nil {
		resp = verifyResponseFromError(err)
		f.runVerifyFailureHooks(ctx, payload, requirements, resp, err)
		return resp, nil
	}

	if resp.IsValid {
		f.verifiedTracking.Store(trackingKey(payload, requirements), struct{}{})
		f.runAfterVerifyHooks(ctx, payload, requirements, resp)
	} else {
		f.runVerifyFailureHooks(ctx, payload, requirements, resp, nil)
	}
	return resp, nil
}

func verifyResponseFromError(err error) VerifyResponse {
	var ve *VerifyError
	if e, ok := err.(*VerifyError); ok {
		ve = e
	}
	if ve != nil {
		return VerifyResponse{IsValid: false, InvalidReason: ve.Reason, Payer: ve.Payer}
	}
	return VerifyResponse{IsValid: false, InvalidReason: err.Error()}
}

// Settle dispatches a settle call, enforcing the before-settle hook chain
// (including the default verified-before-settled check) and returns the
// structured result. A hook abort returns a failed SettleResponse with a
// nil error (spec §4.H: 200, not 500, on hook-aborted settle).
func (f *x402Facilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (SettleResponse, error) {
	var payload PaymentPayload
	var requirements PaymentRequirements
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return SettleResponse{}, fmt.Errorf("invalid payment payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return SettleResponse{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	version := payload.X402Version
	if version == 0 {
		version = ProtocolVersion
	}
	scheme, network, err := types.GetSchemeAndNetwork(version, payloadBytes)
	if err != nil {
		scheme, network = requirements.Scheme, string(requirements.Network)
	}

	for _, hook := range f.beforeSettleHooksSnapshot() {
		result, err := hook(ctx, payload, requirements)
		if err != nil || (result != nil && result.Abort) {
			reason := "settlement aborted"
			if result != nil && result.Reason != "" {
				reason = result.Reason
			}
			resp := SettleResponse{Success: false, ErrorReason: "Settlement aborted: " + reason, Network: requirements.Network}
			return resp, nil
		}
	}

	impl, ok := f.findFacilitator(version, scheme, network)
	if !ok {
		resp := SettleResponse{Success: false, ErrorReason: ErrUnsupportedScheme, Network: requirements.Network}
		f.runSettleFailureHooks(ctx, payload, requirements, resp, nil)
		return resp, nil
	}

	resp, err := impl.Settle(ctx, version, payloadBytes, requirementsBytes)
	if err != nil {
		resp = settleResponseFromError(err, requirements.Network)
		f.runSettleFailureHooks(ctx, payload, requirements, resp, err)
		return resp, nil
	}

	if resp.Success {
		f.runAfterSettleHooks(ctx, payload, requirements, resp)
	} else {
		f.runSettleFailureHooks(ctx, payload, requirements, resp, nil)
	}
	return resp, nil
}

func settleResponseFromError(err error, network Network) SettleResponse {
	if se, ok := err.(*SettleError); ok {
		return SettleResponse{Success: false, ErrorReason: se.Reason, Payer: se.Payer, Transaction: se.Transaction, Network: se.Network}
	}
	return SettleResponse{Success: false, ErrorReason: err.Error(), Network: network}
}

func (f *x402Facilitator) beforeVerifyHooksSnapshot() []OnBeforeVerifyHook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]OnBeforeVerifyHook(nil), f.onBeforeVerifyHooks...)
}

func (f *x402Facilitator) beforeSettleHooksSnapshot() []OnBeforeSettleHook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]OnBeforeSettleHook(nil), f.onBeforeSettleHooks...)
}

func (f *x402Facilitator) runAfterVerifyHooks(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, resp VerifyResponse) {
	f.mu.RLock()
	hooks := append([]OnAfterVerifyHook(nil), f.onAfterVerifyHooks...)
	f.mu.RUnlock()
	hookCtx := FacilitatorVerifyResultContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Result: resp}
	for _, hook := range hooks {
		if err := hook(hookCtx); err != nil {
			f.logger.Warn("afterVerify hook failed", "error", err)
		}
	}
}

func (f *x402Facilitator) runVerifyFailureHooks(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, resp VerifyResponse, err error) {
	f.mu.RLock()
	hooks := append([]OnVerifyFailureHook(nil), f.onVerifyFailureHooks...)
	f.mu.RUnlock()
	hookCtx := FacilitatorVerifyResultContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Result: resp, Err: err}
	for _, hook := range hooks {
		result, hookErr := hook(hookCtx)
		if hookErr != nil {
			f.logger.Warn("verifyFailure hook failed", "error", hookErr)
		}
		_ = result // Recovered is not acted on: a verify failure stays a failure.
	}
}

func (f *x402Facilitator) runAfterSettleHooks(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, resp SettleResponse) {
	f.mu.RLock()
	hooks := append([]OnAfterSettleHook(nil), f.onAfterSettleHooks...)
	f.mu.RUnlock()
	hookCtx := FacilitatorSettleResultContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Result: resp}
	for _, hook := range hooks {
		if err := hook(hookCtx); err != nil {
			f.logger.Warn("afterSettle hook failed", "error", err)
		}
	}
}

func (f *x402Facilitator) runSettleFailureHooks(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, resp SettleResponse, err error) {
	f.mu.RLock()
	hooks := append([]OnSettleFailureHook(nil), f.onSettleFailureHooks...)
	f.mu.RUnlock()
	hookCtx := FacilitatorSettleResultContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Result: resp, Err: err}
	for _, hook := range hooks {
		_, hookErr := hook(hookCtx)
		if hookErr != nil {
			f.logger.Warn("settleFailure hook failed", "error", hookErr)
		}
	}
}

// GetSupported computes the registry's current advertisement: every
// registered (version, network, scheme) kind plus the de-duplicated signer
// addresses per CAIP-2 namespace (spec §4.A). Computed fresh on every call.
func (f *x402Facilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	resp := SupportedResponse{Signers: make(map[string][]string)}
	signerSeen := make(map[string]map[string]bool)

	for version, versionSchemes := range f.schemes {
		for network, schemes := range versionSchemes {
			for scheme, impl := range schemes {
				kind := SupportedKind{X402Version: version, Scheme: scheme, Network: network}
				if extra, ok := impl.(ExtraAdvertiser); ok {
					kind.Extra = extra.GetExtra()
				}
				resp.Kinds = append(resp.Kinds, kind)

				namespace, _, err := network.Parse()
				if err != nil {
					continue
				}
				familyKey := namespace + ":*"
				if signerSeen[familyKey] == nil {
					signerSeen[familyKey] = make(map[string]bool)
				}
				if adv, ok := impl.(SignerAdvertiser); ok {
					for _, addr := range adv.GetSigners() {
						if !signerSeen[familyKey][addr] {
							signerSeen[familyKey][addr] = true
							resp.Signers[familyKey] = append(resp.Signers[familyKey], addr)
						}
					}
				}
			}
		}
	}
	return resp, nil
}
