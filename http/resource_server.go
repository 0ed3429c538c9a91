// Package http wires the core x402 client, facilitator, and resource server
// to HTTP: header codecs, a remote FacilitatorClient, a framework-agnostic
// middleware engine driven through the HTTPAdapter capability, and a
// payment-aware http.Client wrapper (spec §4.G, §4.H, §9 design note).
package http

import (
	"context"
	"fmt"

	x402 "x402-go"
)

// RouteConfig is the payment configuration for a single protected route.
type RouteConfig struct {
	// Accepts lists the payment options the route will take, in preference
	// order; the first one the facilitator supports and the client can pay
	// wins.
	Accepts []x402.ResourceConfig
	// DynamicPrice, if set, is called at request time and overrides every
	// Accepts[i].Price with its result for that request.
	DynamicPrice DynamicPriceFunc
	Description  string
	MimeType     string
	// AutoSettle controls whether an "exact" payment is settled inline
	// before the response is sent. Defaults to true; has no effect on
	// "upto", which never settles inline (spec §4.G step 3).
	AutoSettle *bool
}

// RoutesConfig maps a "METHOD /path" key to its payment configuration.
type RoutesConfig map[string]RouteConfig

// HTTPRequestContext is passed to a DynamicPriceFunc so it can inspect the
// inbound request through the framework-agnostic adapter.
type HTTPRequestContext struct {
	Adapter x402.HTTPAdapter
}

// DynamicPriceFunc computes a route's price for one specific request,
// e.g. to implement tiered or usage-based pricing.
type DynamicPriceFunc func(ctx context.Context, reqCtx HTTPRequestContext) (x402.Price, error)

func (rc RouteConfig) autoSettle() bool {
	if rc.AutoSettle == nil {
		return true
	}
	return *rc.AutoSettle
}

// MiddlewareResult is the framework-agnostic outcome of running the payment
// pipeline for one request: either a 402 to send back, or a verified
// payload ready for the handler to run (and, for "exact", to settle
// afterward).
type MiddlewareResult struct {
	// StatusCode is non-zero (402) when the request is unpaid or the payment
	// is invalid and the handler must not run. A facilitator error is not
	// reported here: ProcessRequest returns it as its error instead.
	StatusCode int
	Headers    map[string]string
	Body       []byte

	Payload      *x402.PaymentPayload
	Requirements *x402.PaymentRequirements
}

// ProcessRequest runs the resource-server middleware pipeline for one route
// (spec §4.G): it builds PaymentRequirements from the route's accepted
// options, reads and verifies the inbound payment header, and returns
// either a 402 to send back or a verified payload for the handler to run.
func ProcessRequest(
	ctx context.Context,
	server *x402.X402ResourceServer,
	route RouteConfig,
	adapter x402.HTTPAdapter,
) (*MiddlewareResult, error) {
	if len(route.Accepts) == 0 {
		return nil, fmt.Errorf("route has no accepted payment options")
	}

	resource := &x402.ResourceInfo{
		URL:         adapter.GetPath(),
		Description: route.Description,
		MimeType:    route.MimeType,
	}

	accepts := make([]x402.PaymentRequirements, 0, len(route.Accepts))
	for _, config := range route.Accepts {
		if route.DynamicPrice != nil {
			price, err := route.DynamicPrice(ctx, HTTPRequestContext{Adapter: adapter})
			if err != nil {
				return nil, fmt.Errorf("dynamic price: %w", err)
			}
			config.Price = price
		}
		requirements, err := server.BuildPaymentRequirements(ctx, resource.URL, config)
		if err != nil {
			return nil, fmt.Errorf("building payment requirements: %w", err)
		}
		accepts = append(accepts, requirements)
	}

	paymentHeader := adapter.GetHeader(PaymentSignatureHeader)
	if paymentHeader == "" {
		paymentHeader = adapter.GetHeader(PaymentSignatureHeaderLegacy)
	}
	var decodedHeader string
	if paymentHeader != "" {
		decodedHeader = decodeBase64OrEmpty(paymentHeader)
	}

	required, payload, requirements, err := server.ProcessPaymentRequest(ctx, resource, accepts, decodedHeader)
	if err != nil {
		return nil, err
	}

	if required != nil {
		if prefersHTML(adapter.GetHeader("Accept")) {
			return nil, errHTMLPaywallNotHandled
		}
		encoded, err := encodePaymentSignatureHeader(*required)
		if err != nil {
			return nil, err
		}
		body, err := marshalJSON(required)
		if err != nil {
			return nil, err
		}
		return &MiddlewareResult{
			StatusCode: 402,
			Headers:    map[string]string{PaymentRequiredHeader: encoded, "Content-Type": "application/json"},
			Body:       body,
		}, nil
	}

	return &MiddlewareResult{Payload: payload, Requirements: requirements}, nil
}

// errHTMLPaywallNotHandled signals to the framework adapter that it should
// render its configured PaywallProvider instead of the JSON 402 body.
var errHTMLPaywallNotHandled = fmt.Errorf("html paywall requested")

// SettleAndRespond runs settlement for an "exact" payment after the route
// handler has completed successfully, returning the PAYMENT-RESPONSE header
// value to attach (empty if settlement doesn't apply or failed). A failed
// inline settlement is returned as settleErr and is not turned into an error
// response, since the handler has already run; neither the net/http wrapper
// nor the gin adapter logs it.
func SettleAndRespond(ctx context.Context, server *x402.X402ResourceServer, route RouteConfig, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (headerValue string, settleErr error) {
	if payload == nil || requirements == nil {
		return "", nil
	}
	if requirements.Scheme != "exact" || !route.autoSettle() {
		return "", nil
	}
	resp, err := server.SettlePayment(ctx, *payload, *requirements)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("settlement failed: %s", resp.ErrorReason)
	}
	encoded, err := encodePaymentSignatureHeader(resp)
	if err != nil {
		return "", err
	}
	return encoded, nil
}
