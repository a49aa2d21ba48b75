package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ametnes/nesis-sub000/internal/models"
	"github.com/ametnes/nesis-sub000/internal/service"
)

type TaskHandler struct {
	svc    *service.TaskService
	logger zerolog.Logger
}

func NewTaskHandler(svc *service.TaskService, logger zerolog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	created, err := h.svc.Create(r.Context(), bearerToken(r), task)
	if err != nil {
		h.logger.Warn().Err(err).Str("parent", task.ParentID).Msg("task create rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.List(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := h.svc.Get(r.Context(), bearerToken(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	// Enabled decodes as a pointer so a payload that omits it does not pause
	// the task.
	var req struct {
		models.Task
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	task := req.Task
	task.ID = mux.Vars(r)["id"]

	updated, err := h.svc.Update(r.Context(), bearerToken(r), task, req.Enabled)
	if err != nil {
		h.logger.Warn().Err(err).Str("task", task.ID).Msg("task update rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Delete(r.Context(), bearerToken(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
