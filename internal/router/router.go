package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/cx-tal-miterani/flight-tracker/internal/handlers"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
)

// RequestObserver records per-request metrics
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
	ObserveRateLimited()
}

// Options configure the cross-cutting middleware
type Options struct {
	CORSAllowedOrigins []string
	RateLimitRPS       float64 // POST /api/flights/update, 0 disables
	RateLimitBurst     int
	MetricsPath        string // empty disables the endpoint
}

// Routes groups the handlers served besides the flight API
type Routes struct {
	API     *handlers.Handler
	Map     http.Handler
	Live    http.Handler // websocket stream, optional
	Metrics http.Handler // optional
}

// SetupRouter creates and configures the HTTP router
func SetupRouter(routes Routes, opts Options, observer RequestObserver, log *logger.Logger) http.Handler {
	log = log.Named("http")
	h := routes.API

	r := mux.NewRouter()
	r.Use(accessLog(log, observer))

	r.HandleFunc("/", h.Welcome).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if routes.Metrics != nil && opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, routes.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/flights").Subrouter()
	api.HandleFunc("/", h.APIRoot).Methods(http.MethodGet)

	var update http.Handler = http.HandlerFunc(h.UpdateFlight)
	if opts.RateLimitRPS > 0 {
		update = rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst), observer, log)(update)
	}
	api.Handle("/update", update).Methods(http.MethodPost)

	api.HandleFunc("/flights", h.ListFlights).Methods(http.MethodGet)
	api.Handle("/map", routes.Map).Methods(http.MethodGet)
	if routes.Live != nil {
		api.Handle("/ws", routes.Live).Methods(http.MethodGet)
	}
	api.HandleFunc("/complete/{flight_id}", h.CompleteFlight).Methods(http.MethodPut)
	api.HandleFunc("/logs/{flight_id}", h.GetFlightLog).Methods(http.MethodGet)
	api.HandleFunc("/flights/{flight_id}", h.DeleteFlight).Methods(http.MethodDelete)
	// must stay last so the fixed paths above win
	api.HandleFunc("/{flight_id}", h.GetFlight).Methods(http.MethodGet)

	// CORS wraps the router so preflight requests never reach method matching
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})

	var handler http.Handler = r
	handler = corsHandler(handler)
	handler = middleware.Recoverer(handler)
	handler = middleware.RealIP(handler)
	handler = requestIDHeader(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// requestIDHeader echoes the id assigned by middleware.RequestID
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs each matched request and reports it under its route template
func accessLog(log *logger.Logger, observer RequestObserver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			if observer != nil {
				observer.ObserveRequest(r.Method, route, status, elapsed)
			}
			log.Info("Request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", status),
				logger.Duration("duration", elapsed),
				logger.String("request_id", middleware.GetReqID(r.Context())),
				logger.String("remote", r.RemoteAddr))
		})
	}
}

func rateLimit(limiter *rate.Limiter, observer RequestObserver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				if observer != nil {
					observer.ObserveRateLimited()
				}
				log.Debug("Update rate limited", logger.String("remote", r.RemoteAddr))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"Too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
