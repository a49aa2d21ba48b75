package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/authz"
	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/repository"
)

type GrantHandler struct {
	grants repository.GrantRepository
	gate   *authz.Gate
	logger zerolog.Logger
}

func NewGrantHandler(grants repository.GrantRepository, gate *authz.Gate, logger zerolog.Logger) *GrantHandler {
	return &GrantHandler{grants: grants, gate: gate, logger: logger}
}

func (h *GrantHandler) Create(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.RequireRoot(r.Context(), bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	var grant models.RoleGrant
	if err := json.NewDecoder(r.Body).Decode(&grant); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if grant.Subject == "" || grant.Action == "" || grant.Resource == "" {
		writeError(w, apperr.Validation("grant subject, action and resource are required"))
		return
	}

	created, err := h.grants.Create(grant)
	if err != nil {
		h.logger.Warn().Err(err).Str("subject", grant.Subject).Msg("grant create failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *GrantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.gate.RequireRoot(r.Context(), bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	if err := h.grants.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
