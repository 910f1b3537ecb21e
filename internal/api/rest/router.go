package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/epiwatch/epiwatch/internal/middleware"
)

// NewRouter wires all routes and wraps them with CORS. limiter guards
// the ingestion endpoints only and may be nil.
func NewRouter(h *Handler, allowedOrigins []string, limiter *middleware.RateLimiter, extra ...func(*mux.Router)) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	ingest := api.PathPrefix("/ingest").Subrouter()
	if limiter != nil {
		ingest.Use(limiter.Middleware)
	}
	ingest.HandleFunc("/hospital", h.ingestHospital).Methods(http.MethodPost)
	ingest.HandleFunc("/social", h.ingestSocial).Methods(http.MethodPost)
	ingest.HandleFunc("/environment", h.ingestEnvironment).Methods(http.MethodPost)

	api.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", h.acknowledgeAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/resolve", h.resolveAlert).Methods(http.MethodPost)

	api.HandleFunc("/system/status", h.systemStatus).Methods(http.MethodGet)
	api.HandleFunc("/pipeline/run", h.runPipeline).Methods(http.MethodPost)

	// Extra route groups, e.g. the websocket hub.
	for _, register := range extra {
		register(r)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}
