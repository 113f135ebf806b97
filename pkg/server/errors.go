package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/UrHighness01/Intelli-sub000/pkg/ratelimit"
	"github.com/UrHighness01/Intelli-sub000/pkg/supervisor"
	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// Every error kind maps to HTTP in this one file; handlers return
// tagged values and call into here.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the {"detail": ...} envelope used for auth and
// provider errors.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

// writePolicyViolation surfaces a content-policy match as 403. wrapped
// selects the chat surface's {"detail": {...}} envelope; the tool-call
// surface writes the object bare.
func writePolicyViolation(w http.ResponseWriter, v *supervisor.PolicyViolation, wrapped bool) {
	body := map[string]any{
		"error":        "content_policy_violation",
		"matched_rule": v.MatchedRule,
		"pattern":      v.Pattern,
	}
	if wrapped {
		writeDetail(w, http.StatusForbidden, body)
		return
	}
	writeJSON(w, http.StatusForbidden, body)
}

// writeRateLimited writes the 429 body and Retry-After header.
func writeRateLimited(w http.ResponseWriter, d *ratelimit.Denied) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSecond))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "rate_limit_exceeded",
		"limit":               d.Limit,
		"window_seconds":      d.WindowSeconds,
		"retry_after_seconds": d.RetryAfterSecond,
	})
}

// writePipelineResult maps a supervisor verdict to its HTTP shape.
func writePipelineResult(w http.ResponseWriter, res supervisor.Result) {
	switch res.Status {
	case tooltype.StatusValidationError:
		writeJSON(w, http.StatusBadRequest, res)
	case tooltype.StatusCapabilityDenied:
		writeJSON(w, http.StatusForbidden, res)
	default:
		// accepted and pending_approval are both 200; the status field
		// carries the distinction.
		writeJSON(w, http.StatusOK, res)
	}
}

// writeError routes any error from the lower layers.
func writeError(w http.ResponseWriter, err error, chatSurface bool) {
	var policy *supervisor.PolicyViolation
	if errors.As(err, &policy) {
		writePolicyViolation(w, policy, chatSurface)
		return
	}
	var denied *ratelimit.Denied
	if errors.As(err, &denied) {
		writeRateLimited(w, denied)
		return
	}
	writeDetail(w, http.StatusBadGateway, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeDetail(w, http.StatusNotFound, what+" not found")
}
