package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/service"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers for the API
type Handler struct {
	flightService service.FlightService
	health        Pinger
	logger        *logger.Logger
}

// NewHandler creates a new Handler instance. health may be nil.
func NewHandler(flightService service.FlightService, health Pinger, log *logger.Logger) *Handler {
	return &Handler{
		flightService: flightService,
		health:        health,
		logger:        log.Named("api-handler"),
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors to status codes; anything unexpected is logged and hidden
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *service.ValidationError
	var notFound *service.NotFoundError
	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, notFound.Message)
	default:
		h.logger.Error("Request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// Welcome handles GET /
func (h *Handler) Welcome(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Flight Tracker!"})
}

// APIRoot handles GET /api/flights/
func (h *Handler) APIRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Flight Tracker API is running!"})
}

// UpdateFlight handles POST /api/flights/update
func (h *Handler) UpdateFlight(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil || raw == nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.flightService.UpdateFlight(r.Context(), raw)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListFlights handles GET /api/flights/flights
func (h *Handler) ListFlights(w http.ResponseWriter, r *http.Request) {
	resp, err := h.flightService.ListFlights(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetFlight handles GET /api/flights/{flight_id}?timestamp=...
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	flightID := mux.Vars(r)["flight_id"]

	var (
		resp interface{}
		err  error
	)
	if ts := r.URL.Query().Get("timestamp"); ts != "" {
		resp, err = h.flightService.GetClosestLocation(r.Context(), flightID, ts)
	} else {
		resp, err = h.flightService.GetLatestLocation(r.Context(), flightID)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// CompleteFlight handles PUT /api/flights/complete/{flight_id}
func (h *Handler) CompleteFlight(w http.ResponseWriter, r *http.Request) {
	resp, err := h.flightService.CompleteFlight(r.Context(), mux.Vars(r)["flight_id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetFlightLog handles GET /api/flights/logs/{flight_id}
func (h *Handler) GetFlightLog(w http.ResponseWriter, r *http.Request) {
	resp, err := h.flightService.GetFlightLog(r.Context(), mux.Vars(r)["flight_id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// DeleteFlight handles DELETE /api/flights/flights/{flight_id}
func (h *Handler) DeleteFlight(w http.ResponseWriter, r *http.Request) {
	resp, err := h.flightService.DeleteFlight(r.Context(), mux.Vars(r)["flight_id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", logger.Error(err))
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"time":   time.Now().Format(time.RFC3339),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
