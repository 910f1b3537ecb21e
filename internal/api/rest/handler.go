// Package rest exposes the epiwatch HTTP API: raw event ingestion,
// alert lifecycle, system status, and the manual pipeline trigger.
// Ingestion payloads are assumed pre-validated upstream; handlers check
// presence of required fields only.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/metrics"
	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/scheduler"
	"github.com/epiwatch/epiwatch/internal/store"
)

const defaultAlertLimit = 50

// ModelStatus reports whether the learned model artifact is usable.
type ModelStatus interface {
	Loaded() bool
}

// Handler serves the REST API.
type Handler struct {
	store  store.Store
	runner *scheduler.Runner
	model  ModelStatus
	logger *zap.Logger
}

// NewHandler builds the API handler. model may be nil when no learned
// model is configured.
func NewHandler(s store.Store, runner *scheduler.Runner, model ModelStatus, logger *zap.Logger) *Handler {
	return &Handler{
		store:  s,
		runner: runner,
		model:  model,
		logger: logger.Named("api"),
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// ─── Ingestion ───────────────────────────────────────────────────────

func (h *Handler) ingestHospital(w http.ResponseWriter, r *http.Request) {
	var ev models.HospitalEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.Ward == "" || ev.HospitalID == "" || ev.Timestamp.IsZero() {
		respondError(w, http.StatusBadRequest, "ward, hospital_id, and timestamp are required")
		return
	}
	if ev.PatientCount <= 0 {
		respondError(w, http.StatusBadRequest, "patient_count must be positive")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if err := h.store.InsertHospitalEvent(r.Context(), &ev); err != nil {
		h.logger.Error("hospital ingest failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store event")
		return
	}
	metrics.EventsIngested.WithLabelValues("hospital").Inc()
	respondJSON(w, http.StatusCreated, map[string]string{"id": ev.ID})
}

func (h *Handler) ingestSocial(w http.ResponseWriter, r *http.Request) {
	var post models.SocialPost
	if err := json.NewDecoder(r.Body).Decode(&post); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if post.Ward == "" || post.Timestamp.IsZero() {
		respondError(w, http.StatusBadRequest, "ward and timestamp are required")
		return
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}

	if err := h.store.InsertSocialPost(r.Context(), &post); err != nil {
		h.logger.Error("social ingest failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store post")
		return
	}
	metrics.EventsIngested.WithLabelValues("social").Inc()
	respondJSON(w, http.StatusCreated, map[string]string{"id": post.ID})
}

func (h *Handler) ingestEnvironment(w http.ResponseWriter, r *http.Request) {
	var reading models.EnvironmentReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reading.Ward == "" || reading.Timestamp.IsZero() {
		respondError(w, http.StatusBadRequest, "ward and timestamp are required")
		return
	}
	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}

	if err := h.store.InsertEnvironmentReading(r.Context(), &reading); err != nil {
		h.logger.Error("environment ingest failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	metrics.EventsIngested.WithLabelValues("environment").Inc()
	respondJSON(w, http.StatusCreated, map[string]string{"id": reading.ID})
}

// ─── Alerts ──────────────────────────────────────────────────────────

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter := store.AlertFilter{
		Ward:   r.URL.Query().Get("ward"),
		Status: models.AlertStatus(r.URL.Query().Get("status")),
		Limit:  defaultAlertLimit,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list alerts failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	alert, err := h.store.GetAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("get alert failed", zap.String("alert_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, models.AlertAcknowledged, []models.AlertStatus{models.AlertActive})
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	h.transitionAlert(w, r, models.AlertResolved, []models.AlertStatus{models.AlertActive, models.AlertAcknowledged})
}

func (h *Handler) transitionAlert(w http.ResponseWriter, r *http.Request, next models.AlertStatus, allowedFrom []models.AlertStatus) {
	id := mux.Vars(r)["id"]

	alert, err := h.store.GetAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("get alert failed", zap.String("alert_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}

	allowed := false
	for _, from := range allowedFrom {
		if alert.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		respondError(w, http.StatusConflict, "alert is "+string(alert.Status)+", cannot transition to "+string(next))
		return
	}

	if err := h.store.UpdateAlertStatus(r.Context(), id, next); err != nil {
		h.logger.Error("alert transition failed", zap.String("alert_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update alert")
		return
	}
	h.logger.Info("alert status changed",
		zap.String("alert_id", id),
		zap.String("from", string(alert.Status)),
		zap.String("to", string(next)))

	alert.Status = next
	respondJSON(w, http.StatusOK, alert)
}

// ─── System ──────────────────────────────────────────────────────────

func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbOK := h.store.Ping(ctx) == nil

	active, err := h.store.ListAlerts(ctx, store.AlertFilter{Status: models.AlertActive})
	if err != nil {
		h.logger.Warn("active alert count unavailable", zap.Error(err))
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	recent, err := h.store.RecentAnomalies(ctx, since, true)
	if err != nil {
		h.logger.Warn("recent anomaly count unavailable", zap.Error(err))
	}

	modelLoaded := h.model != nil && h.model.Loaded()

	status := "healthy"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]any{
		"status":        status,
		"database":      dbOK,
		"model_loaded":  modelLoaded,
		"active_alerts": len(active),
		"anomalies_24h": len(recent),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) runPipeline(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context())
	if errors.Is(err, scheduler.ErrRunInProgress) {
		respondError(w, http.StatusConflict, "a pipeline run is already in progress")
		return
	}
	if err != nil {
		h.logger.Error("manual pipeline run failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
