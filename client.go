package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"x402-go/types"
)

// x402Client manages client-side payment mechanisms and creates signed
// payment payloads on behalf of a paying application.
type x402Client struct {
	mu sync.RWMutex

	// version -> network -> scheme -> client implementation
	schemes map[int]map[Network]map[string]SchemeNetworkClient

	requirementsSelector PaymentRequirementsSelector
	policies             []PaymentPolicy

	beforePaymentCreationHooks    []BeforePaymentCreationHook
	afterPaymentCreationHooks     []AfterPaymentCreationHook
	onPaymentCreationFailureHooks []OnPaymentCreationFailureHook
}

// PaymentRequirementsSelector chooses which payment option to use among the
// requirements the client can fulfill.
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// PaymentPolicy filters or transforms a set of requirements before the
// selector picks the final one. Policies run in registration order.
type PaymentPolicy func(version int, requirements []PaymentRequirements) []PaymentRequirements

// ClientOption configures an x402Client at construction time.
type ClientOption func(*x402Client)

func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *x402Client) { c.requirementsSelector = selector }
}

func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *x402Client) { c.policies = append(c.policies, policy) }
}

func WithScheme(version int, network Network, client SchemeNetworkClient) ClientOption {
	return func(c *x402Client) { c.registerScheme(version, network, client) }
}

func Newx402Client(opts ...ClientOption) *x402Client {
	c := &x402Client{
		schemes:              make(map[int]map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultPaymentSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// RegisterScheme registers a mechanism for protocol v2 (the default).
func (c *x402Client) RegisterScheme(network Network, client SchemeNetworkClient) *x402Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

// RegisterSchemeV1 registers a mechanism for the legacy protocol v1.
func (c *x402Client) RegisterSchemeV1(network Network, client SchemeNetworkClient) *x402Client {
	return c.registerScheme(ProtocolVersionV1, network, client)
}

func (c *x402Client) RegisterPolicy(policy PaymentPolicy) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

func (c *x402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	return c
}

func (c *x402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	return c
}

func (c *x402Client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	return c
}

func (c *x402Client) registerScheme(version int, network Network, client SchemeNetworkClient) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schemes[version] == nil {
		c.schemes[version] = make(map[Network]map[string]SchemeNetworkClient)
	}
	if c.schemes[version][network] == nil {
		c.schemes[version][network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[version][network][client.Scheme()] = client
	return c
}

func findSchemesByNetwork(versionSchemes map[Network]map[string]SchemeNetworkClient, network Network) map[string]SchemeNetworkClient {
	if schemes, ok := versionSchemes[network]; ok {
		return schemes
	}
	for registered, schemes := range versionSchemes {
		if network.Match(registered) {
			return schemes
		}
	}
	return nil
}

func findClientByNetworkAndScheme(versionSchemes map[Network]map[string]SchemeNetworkClient, scheme string, network Network) SchemeNetworkClient {
	schemes := findSchemesByNetwork(versionSchemes, network)
	if schemes == nil {
		return nil
	}
	return schemes[scheme]
}

// SelectPaymentRequirements filters requirements to those this client can
// fulfill, applies registered policies, and returns the selector's choice.
func (c *x402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentRequirements{}, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(versionSchemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}
	if len(supported) == 0 {
		return PaymentRequirements{}, NewPaymentError(ErrCodeUnsupportedScheme, "no supported payment schemes available", map[string]interface{}{
			"version": version,
		})
	}

	filtered := supported
	for _, policy := range c.policies {
		filtered = policy(version, filtered)
		if len(filtered) == 0 {
			return PaymentRequirements{}, NewPaymentError(ErrCodeUnsupportedScheme, "all payment requirements were filtered out by policies", nil)
		}
	}

	return c.requirementsSelector(version, filtered), nil
}

// CreatePaymentPayload creates a signed payment payload from requirements
// bytes. For v1 the mechanism already returns a complete payload; for v2
// it returns a partial payload that is wrapped here with accepted/resource
// /extensions.
func (c *x402Client) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirementsBytes []byte,
	resource *ResourceInfo,
	extensions map[string]interface{},
) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, err := types.ExtractRequirementsInfo(requirementsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to extract requirements info: %w", err)
	}

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return nil, fmt.Errorf("no schemes registered for x402 version %d", version)
	}

	client := findClientByNetworkAndScheme(versionSchemes, info.Scheme, Network(info.Network))
	if client == nil {
		return nil, NewPaymentError(ErrCodeUnsupportedScheme, fmt.Sprintf("no client registered for scheme %s on network %s for version %d", info.Scheme, info.Network, version), nil)
	}

	payloadBytes, err := client.CreatePaymentPayload(ctx, version, requirementsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment payload: %w", err)
	}

	if version == ProtocolVersionV1 {
		return payloadBytes, nil
	}
	return c.wrapV2Payload(payloadBytes, requirementsBytes, resource, extensions)
}

func (c *x402Client) wrapV2Payload(
	partialPayloadBytes []byte,
	requirementsBytes []byte,
	resource *ResourceInfo,
	extensions map[string]interface{},
) ([]byte, error) {
	partial, err := types.ToPayloadBase(partialPayloadBytes)
	if err != nil {
		return nil, err
	}

	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, err
	}

	complete := PaymentPayload{
		X402Version: partial.X402Version,
		Payload:     partial.Payload,
		Accepted:    requirements,
		Resource:    resource,
		Extensions:  extensions,
	}
	return json.Marshal(complete)
}

// CanPay reports whether the client can fulfill any of the given options.
func (c *x402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentForRequired selects a requirement from a PaymentRequired
// response, runs it through the creation hook chain, and returns the signed
// payload.
func (c *x402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	hookCtx := PaymentCreationContext{
		Ctx:                  ctx,
		PaymentRequired:      required,
		SelectedRequirements: selected,
	}

	c.mu.RLock()
	beforeHooks := append([]BeforePaymentCreationHook(nil), c.beforePaymentCreationHooks...)
	c.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, _ := hook(hookCtx)
		if result != nil && result.Abort {
			return PaymentPayload{}, fmt.Errorf("payment creation aborted: %s", result.Reason)
		}
	}

	var paymentPayload PaymentPayload
	var paymentErr error

	selectedBytes, err := json.Marshal(selected)
	if err != nil {
		paymentErr = err
	} else {
		payloadBytes, err := c.CreatePaymentPayload(ctx, required.X402Version, selectedBytes, required.Resource, required.Extensions)
		if err != nil {
			paymentErr = err
		} else if err := json.Unmarshal(payloadBytes, &paymentPayload); err != nil {
			paymentErr = err
		}
	}

	if paymentErr == nil {
		c.mu.RLock()
		afterHooks := append([]AfterPaymentCreationHook(nil), c.afterPaymentCreationHooks...)
		c.mu.RUnlock()

		createdCtx := PaymentCreatedContext{PaymentCreationContext: hookCtx, PaymentPayload: paymentPayload}
		for _, hook := range afterHooks {
			_ = hook(createdCtx)
		}
		return paymentPayload, nil
	}

	c.mu.RLock()
	failureHooks := append([]OnPaymentCreationFailureHook(nil), c.onPaymentCreationFailureHooks...)
	c.mu.RUnlock()

	failureCtx := PaymentCreationFailureContext{PaymentCreationContext: hookCtx, Error: paymentErr}
	for _, hook := range failureHooks {
		recovery, _ := hook(failureCtx)
		if recovery != nil && recovery.Recovered {
			return recovery.Payload, nil
		}
	}

	return PaymentPayload{}, paymentErr
}
