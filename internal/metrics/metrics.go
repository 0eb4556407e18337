package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cx-tal-miterani/flight-tracker/internal/events"
)

type Registry struct {
	reg *prometheus.Registry

	Events           *prometheus.CounterVec
	Renders          prometheus.Counter
	RenderFailures   prometheus.Counter
	RenderDuration   prometheus.Histogram
	ActiveFlights    prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	RateLimited      prometheus.Counter
	WebsocketClients prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_tracker_events_total",
		Help: "Flight mutations published, by event type.",
	}, []string{"type"})
	renders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_tracker_map_renders_total",
		Help: "Successful map renders.",
	})
	renderFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_tracker_map_render_failures_total",
		Help: "Map renders that failed.",
	})
	renderDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flight_tracker_map_render_seconds",
		Buckets: prometheus.DefBuckets,
	})
	activeFlights := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flight_tracker_active_flights",
		Help: "Active flights drawn by the last successful render.",
	})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_tracker_http_requests_total",
	}, []string{"method", "route", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flight_tracker_http_request_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flight_tracker_rate_limited_total",
		Help: "Update requests rejected by the rate limiter.",
	})
	wsClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flight_tracker_websocket_clients",
	})

	r.MustRegister(
		eventsTotal, renders, renderFailures, renderDuration, activeFlights,
		httpRequests, httpDuration, rateLimited, wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		reg:              r,
		Events:           eventsTotal,
		Renders:          renders,
		RenderFailures:   renderFailures,
		RenderDuration:   renderDuration,
		ActiveFlights:    activeFlights,
		HTTPRequests:     httpRequests,
		HTTPDuration:     httpDuration,
		RateLimited:      rateLimited,
		WebsocketClients: wsClients,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// HandleEvent counts published events
func (r *Registry) HandleEvent(ctx context.Context, e events.Event) error {
	r.Events.WithLabelValues(string(e.Type)).Inc()
	return nil
}

// ObserveRender records the outcome of one map render
func (r *Registry) ObserveRender(d time.Duration, flights int, err error) {
	r.RenderDuration.Observe(d.Seconds())
	if err != nil {
		r.RenderFailures.Inc()
		return
	}
	r.Renders.Inc()
	r.ActiveFlights.Set(float64(flights))
}

// ObserveRequest records one served HTTP request
func (r *Registry) ObserveRequest(method, route string, status int, d time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (r *Registry) ObserveRateLimited() { r.RateLimited.Inc() }

func (r *Registry) ClientConnected()    { r.WebsocketClients.Inc() }
func (r *Registry) ClientDisconnected() { r.WebsocketClients.Dec() }
