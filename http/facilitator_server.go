package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	x402 "x402-go"
)

// FacilitatorHandlers builds the three stdlib net/http handlers a facilitator
// process exposes (spec §4.H): POST /verify, POST /settle, GET /supported.
// Framework-specific wrappers (see http/gin) adapt these to their router.
type FacilitatorHandlers struct {
	Facilitator *x402.X402Facilitator
}

func NewFacilitatorHandlers(facilitator *x402.X402Facilitator) *FacilitatorHandlers {
	return &FacilitatorHandlers{Facilitator: facilitator}
}

func (h *FacilitatorHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	resp, err := h.Facilitator.Verify(ctx, body.PaymentPayload, body.PaymentRequirements)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FacilitatorHandlers) Settle(w http.ResponseWriter, r *http.Request) {
	var body verifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	resp, err := h.Facilitator.Settle(ctx, body.PaymentPayload, body.PaymentRequirements)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FacilitatorHandlers) Supported(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Facilitator.GetSupported(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
