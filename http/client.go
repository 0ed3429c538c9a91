package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	x402 "x402-go"
)

// x402HTTPClient wraps a plain http.Client with the x402 payment retry loop:
// send the request, and if it comes back 402, sign a payment for one of the
// accepted options and retry once with the payment header attached
// (spec §4.G flow, client side of step 1-2).
type x402HTTPClient struct {
	client     *http.Client
	x402Client *x402.X402Client
}

// Newx402HTTPClient wraps an *x402.X402Client for use against HTTP resource
// servers.
func Newx402HTTPClient(client *x402.X402Client) *x402HTTPClient {
	return &x402HTTPClient{client: http.DefaultClient, x402Client: client}
}

// WrapHTTPClientWithPayment installs httpClient as the transport of
// x402Client and returns httpClient unchanged; payments are made through
// x402Client's *WithPayment methods, not through the returned client. Kept
// as a named step so callers can substitute a customized http.Client
// (proxies, timeouts) before wrapping.
func WrapHTTPClientWithPayment(httpClient *http.Client, x402Client *x402HTTPClient) *http.Client {
	x402Client.client = httpClient
	return httpClient
}

func (c *x402HTTPClient) GetWithPayment(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

func (c *x402HTTPClient) PostWithPayment(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	return c.DoWithPayment(ctx, req)
}

// DoWithPayment performs req, and if the response is 402, decodes the
// PAYMENT-REQUIRED body, signs a payment for one of the accepted options,
// and retries the request once with PAYMENT-SIGNATURE attached.
func (c *x402HTTPClient) DoWithPayment(ctx context.Context, req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 402 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var required x402.PaymentRequired
	if err := unmarshalJSON(raw, &required); err != nil {
		return nil, fmt.Errorf("decoding 402 body: %w", err)
	}

	payload, err := c.x402Client.CreatePaymentForRequired(ctx, required)
	if err != nil {
		return nil, fmt.Errorf("creating payment: %w", err)
	}
	encoded, err := encodePaymentSignatureHeader(payload)
	if err != nil {
		return nil, err
	}

	retryReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytesReaderOrNil(bodyBytes))
	if err != nil {
		return nil, err
	}
	retryReq.Header = req.Header.Clone()
	retryReq.Header.Set(PaymentSignatureHeader, encoded)

	return c.client.Do(retryReq)
}

func bytesReaderOrNil(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}
