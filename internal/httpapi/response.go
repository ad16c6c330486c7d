// Package httpapi exposes the supervisor's thin REST boundary: job
// submission, cancellation, status/event/log inspection and credential
// registration, over the store, the scheduler and the credential guard.
// Job submission checks the requested Slurm limits against the
// cluster's ceiling before queueing. Grounded on arkeep-io-arkeep/server/internal/api's chi
// router, response envelope, and per-resource handler shape.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response wrapper: successful responses
// wrap the payload under "data", errors under "error".
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func ok(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{"data": payload})
}

func accepted(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusAccepted, envelope{"data": payload})
}

func errJSON(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, envelope{"error": map[string]string{"message": message, "code": code}})
}

func errBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request")
}

func errNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "job not found", "not_found")
}

func errInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", "internal_error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		errBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
