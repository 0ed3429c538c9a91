package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	x402 "x402-go"
)

// Canonical x402 header names (spec §4.H). PaymentSignatureHeaderLegacy is
// the alias older clients send instead of PaymentSignatureHeader.
const (
	PaymentSignatureHeader       = "PAYMENT-SIGNATURE"
	PaymentSignatureHeaderLegacy = "X-PAYMENT"
	PaymentRequiredHeader        = "PAYMENT-REQUIRED"
	PaymentResponseHeader        = "PAYMENT-RESPONSE"
	UptoSessionHeader            = "x-upto-session-id"
)

// encodePaymentSignatureHeader base64-encodes a JSON-marshaled value for use
// in any of the PAYMENT-* headers. All three headers share this codec.
func encodePaymentSignatureHeader(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeHeaderValue(encoded string, out interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// decodePaymentRequiredHeader decodes a PAYMENT-REQUIRED header value.
func decodePaymentRequiredHeader(encoded string) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	err := decodeHeaderValue(encoded, &required)
	return required, err
}

// decodePaymentResponseHeader decodes a PAYMENT-RESPONSE header value.
func decodePaymentResponseHeader(encoded string) (x402.SettleResponse, error) {
	var resp x402.SettleResponse
	err := decodeHeaderValue(encoded, &resp)
	return resp, err
}

// paymentHeaderFromRequest reads the payment header off an inbound request,
// preferring the canonical name and falling back to the legacy alias, and
// decodes it to the raw JSON the core middleware expects.
func paymentHeaderFromRequest(r *http.Request) string {
	encoded := r.Header.Get(PaymentSignatureHeader)
	if encoded == "" {
		encoded = r.Header.Get(PaymentSignatureHeaderLegacy)
	}
	if encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(raw)
}

// prefersHTML reports whether the request's Accept header prefers text/html
// over application/json, used to decide whether to render a paywall
// (spec §4.G step 2).
func prefersHTML(acceptHeader string) bool {
	htmlIdx := strings.Index(acceptHeader, "text/html")
	jsonIdx := strings.Index(acceptHeader, "application/json")
	if htmlIdx < 0 {
		return false
	}
	if jsonIdx < 0 {
		return true
	}
	return htmlIdx < jsonIdx
}
