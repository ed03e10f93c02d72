// ABOUTME: JSON response helpers and the error envelope written by every API endpoint
// ABOUTME: Maps admission, validation, timeout and internal errors onto codes and statuses

package gateway

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/llm"
	"github.com/2389/campaign-gateway/internal/pipeline"
	"github.com/2389/campaign-gateway/internal/ratelimit"
)

// Error codes carried in the envelope
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeInvalidParameters    = "invalid_parameters"
	CodeInternalError        = "internal_error"
	CodeUpstreamTimeout      = "upstream_timeout"
	CodeNotFound             = "not_found"
)

// ErrorBody is the error member of the envelope
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope is the body of every non-2xx API response
type ErrorEnvelope struct {
	Status string    `json:"status"`
	Error  ErrorBody `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes an error envelope.
func sendJSONError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorEnvelope{
		Status: "error",
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// setRateLimitHeaders describes the client's current window
func setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(d.ResetAfter.Seconds()), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(ceilSeconds(d.RetryAfter.Seconds()), 10))
	}
}

func ceilSeconds(s float64) int64 {
	if s <= 0 {
		return 0
	}
	return int64(math.Ceil(s))
}

// writeError converts err into an envelope. Unclassified errors are reported
// to telemetry and returned as internal_error with the error text as details.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var admission *auth.AdmissionError
	if errors.As(err, &admission) {
		if errors.Is(admission, auth.ErrRateLimited) {
			setRateLimitHeaders(w, admission.Decision)
			sendJSONError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, admission.Message, nil)
			return
		}
		sendJSONError(w, http.StatusUnauthorized, CodeAuthenticationFailed, admission.Message, nil)
		return
	}

	var validation *pipeline.ValidationError
	if errors.As(err, &validation) {
		sendJSONError(w, http.StatusBadRequest, CodeInvalidParameters, "Missing required fields",
			map[string][]string{"missing_fields": validation.MissingFields})
		return
	}

	if errors.Is(err, pipeline.ErrResultNotFound) {
		sendJSONError(w, http.StatusNotFound, CodeNotFound, "Result not found", nil)
		return
	}

	g.reporter.CaptureError(r.Context(), err, "method", r.Method, "path", r.URL.Path)

	if errors.Is(err, llm.ErrTimeout) {
		sendJSONError(w, http.StatusGatewayTimeout, CodeUpstreamTimeout, "Content model timed out", err.Error())
		return
	}

	sendJSONError(w, http.StatusInternalServerError, CodeInternalError, "Error generating content", err.Error())
}
