package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/models"
	"github.com/ThiagoRGoveia/address-sync/internal/scheduler"
)

// RunTrigger is the part of the scheduler the admin surface drives.
type RunTrigger interface {
	TriggerAsync(source string) error
	LastReport() *models.RunReport
	Running() bool
}

// RunHistory is the part of the store the admin surface reads.
type RunHistory interface {
	Ping(ctx context.Context) error
	LatestSyncRun(ctx context.Context) (*models.SyncRun, error)
}

type RunService struct {
	trigger RunTrigger
	history RunHistory
	logger  *slog.Logger
}

func NewRunService(trigger RunTrigger, history RunHistory, logger *slog.Logger) *RunService {
	return &RunService{trigger: trigger, history: history, logger: logger}
}

type latestRunResponse struct {
	Running bool              `json:"running"`
	Report  *models.RunReport `json:"report,omitempty"`
	Run     *models.SyncRun   `json:"run,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *RunService) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Ping(r.Context()); err != nil {
		h.logger.Error("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

// GetLatestRun returns the report of the last run of this process. After a restart
// it falls back to the last run recorded in the store.
func (h *RunService) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	resp := latestRunResponse{Running: h.trigger.Running()}

	if report := h.trigger.LastReport(); report != nil {
		resp.Report = report
		writeJSON(w, http.StatusOK, resp)
		return
	}

	run, err := h.history.LatestSyncRun(r.Context())
	switch {
	case errors.Is(err, database.ErrNotFound):
		if resp.Running {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "no sync run recorded yet"})
		return
	case err != nil:
		h.logger.Error("Failed to read latest sync run", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "failed to retrieve latest sync run"})
		return
	}

	resp.Run = run
	writeJSON(w, http.StatusOK, resp)
}

// TriggerRun starts a run in the background. A trigger that overlaps a running
// sync is rejected with 409.
func (h *RunService) TriggerRun(w http.ResponseWriter, r *http.Request) {
	err := h.trigger.TriggerAsync(scheduler.SourceManual)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, messageResponse{Message: err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to trigger sync run", "error", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "failed to trigger sync run"})
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "sync run started"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
