// Package api exposes the gateway's HTTP surface: operator resolution,
// endpoint role gating and thin JSON handlers over the injected
// services.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
)

const maxBodyBytes = 1 << 20

// writeJSON serializes payload with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out if encoding fails; nothing useful remains.
	_ = json.NewEncoder(w).Encode(payload)
}

// writeOK wraps payload in the success envelope.
func writeOK(w http.ResponseWriter, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	body["status"] = "ok"
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError maps err onto the error envelope. Unclassified errors
// become opaque internal errors; their cause is logged, not echoed.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var aerr *apierr.Error
	if !errors.As(err, &aerr) {
		log.Error("unclassified handler error", zap.Error(err))
		aerr = apierr.Internal("internal error")
	}
	body := map[string]any{
		"status": "error",
		"error":  aerr.Code,
	}
	if aerr.Detail != "" {
		body["detail"] = aerr.Detail
	}
	for k, v := range aerr.Meta {
		body[k] = v
	}
	writeJSON(w, aerr.Status, body)
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(r *http.Request, v any) *apierr.Error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.BadRequest(apierr.CodeInvalidRequest, "request body must be valid JSON")
	}
	return nil
}
