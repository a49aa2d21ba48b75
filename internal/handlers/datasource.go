package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/service"
)

type DatasourceHandler struct {
	svc    *service.DatasourceService
	logger zerolog.Logger
}

func NewDatasourceHandler(svc *service.DatasourceService, logger zerolog.Logger) *DatasourceHandler {
	return &DatasourceHandler{svc: svc, logger: logger}
}

func (h *DatasourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var ds models.Datasource
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	created, err := h.svc.Create(r.Context(), bearerToken(r), ds)
	if err != nil {
		h.logger.Warn().Err(err).Str("datasource", ds.Name).Msg("datasource create rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *DatasourceHandler) List(w http.ResponseWriter, r *http.Request) {
	datasources, err := h.svc.List(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, datasources)
}

func (h *DatasourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ds, err := h.svc.Get(r.Context(), bearerToken(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *DatasourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	// Enabled decodes as a pointer so a payload that omits it does not
	// disable the datasource.
	var req struct {
		models.Datasource
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	ds := req.Datasource
	ds.ID = mux.Vars(r)["id"]

	updated, err := h.svc.Update(r.Context(), bearerToken(r), ds, req.Enabled)
	if err != nil {
		h.logger.Warn().Err(err).Str("datasource", ds.ID).Msg("datasource update rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *DatasourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Delete(r.Context(), bearerToken(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
