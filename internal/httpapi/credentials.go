package httpapi

import (
	"net/http"
	"time"

	"github.com/cybergis/compute-supervisor/internal/credential"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// CredentialHandler exposes the Credential Guard's validate-and-store
// flow for private-account clusters.
type CredentialHandler struct {
	guard *credential.Guard
	hpcs  map[string]types.HPCConfig
}

// NewCredentialHandler builds a CredentialHandler.
func NewCredentialHandler(guard *credential.Guard, hpcs map[string]types.HPCConfig) *CredentialHandler {
	return &CredentialHandler{guard: guard, hpcs: hpcs}
}

type registerCredentialRequest struct {
	HPC         string `json:"hpc"`
	User        string `json:"user"`
	Password    string `json:"password"`
	MaxWalltime int    `json:"max_walltime_seconds"`
}

type registerCredentialResponse struct {
	CredentialID string `json:"credential_id"`
}

// Register validates user/password against hpc and, on success, stores
// them with a TTL derived from max_walltime_seconds.
func (h *CredentialHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.HPC == "" || req.User == "" || req.Password == "" {
		errBadRequest(w, "hpc, user and password are required")
		return
	}

	hpc, found := h.hpcs[req.HPC]
	if !found {
		errBadRequest(w, "unknown cluster")
		return
	}

	if err := h.guard.ValidatePrivateAccount(r.Context(), hpc, req.User, req.Password); err != nil {
		log.WithComponent("httpapi").Warn().Err(err).Str("hpc", req.HPC).Msg("credential validation failed")
		errBadRequest(w, "credential validation failed")
		return
	}

	id, err := h.guard.Register(r.Context(), req.User, req.Password, time.Duration(req.MaxWalltime)*time.Second)
	if err != nil {
		log.WithComponent("httpapi").Error().Err(err).Msg("credential registration failed")
		errInternal(w)
		return
	}

	ok(w, registerCredentialResponse{CredentialID: id})
}
