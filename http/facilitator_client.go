package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "x402-go"
)

// FacilitatorConfig configures an HTTPFacilitatorClient.
type FacilitatorConfig struct {
	// URL is the facilitator's base URL, e.g. "https://x402.org/facilitator".
	URL string
	// Client is the underlying *http.Client to use; defaults to a 30s timeout
	// client if nil.
	Client *http.Client
	// Headers are sent on every request (e.g. an API key for a paid
	// facilitator service).
	Headers map[string]string
}

// HTTPFacilitatorClient implements x402.FacilitatorClient by calling a
// remote facilitator's HTTP surface (spec §4.H).
type HTTPFacilitatorClient struct {
	config *FacilitatorConfig
}

// NewHTTPFacilitatorClient builds a facilitator client that talks to a
// remote facilitator over HTTP.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFacilitatorClient{config: config}
}

type verifyRequestBody struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

func (c *HTTPFacilitatorClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.config.Client.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	err := c.doJSON(ctx, http.MethodPost, "/verify", verifyRequestBody{
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	}, &resp)
	return resp, err
}

func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402.SettleResponse, error) {
	var resp x402.SettleResponse
	err := c.doJSON(ctx, http.MethodPost, "/settle", verifyRequestBody{
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	}, &resp)
	return resp, err
}

func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var resp x402.SupportedResponse
	err := c.doJSON(ctx, http.MethodGet, "/supported", nil, &resp)
	return resp, err
}
