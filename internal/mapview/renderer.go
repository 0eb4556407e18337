// Package mapview renders the active flights onto a Leaflet HTML map.
package mapview

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
	"github.com/cx-tal-miterani/flight-tracker/internal/models"
)

//go:embed templates/map.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/map.html.tmpl"))

var popupTemplate = template.Must(template.New("popup").Parse(`<div class="flight-popup">
<h4>{{.FlightID}}</h4>
<b>Route:</b> {{.Route}}<br>
<b>Airline:</b> {{.Airline}}<br>
<b>Altitude:</b> {{.Altitude}} ft<br>
<b>Speed:</b> {{.Speed}} knots<br>
<b>Status:</b> {{.Status}}<br>
<b>Last Update:</b> {{.LastUpdate}}
</div>`))

// Palette cycles over flights by their position in the listing
var Palette = []string{"blue", "red", "green", "purple", "orange", "darkblue", "darkred", "darkgreen", "cadetblue", "lightred"}

// FlightSource lists the flights to draw
type FlightSource interface {
	ListActive(ctx context.Context) ([]*models.Flight, error)
}

// Observer receives render outcomes, e.g. for metrics
type Observer interface {
	ObserveRender(d time.Duration, flights int, err error)
}

// Options control the map view and where the artifact is written
type Options struct {
	OutputPath  string
	CenterLat   float64
	CenterLon   float64
	Zoom        int
	TileURL     string
	Attribution string
}

// RenderError wraps a failed render. It is logged and counted, never returned to API clients.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "map render failed: " + e.Err.Error() }
func (e *RenderError) Unwrap() error { return e.Err }

// Renderer regenerates the map artifact. Renders are serialized.
type Renderer struct {
	source   FlightSource
	opts     Options
	logger   *logger.Logger
	observer Observer

	mu sync.Mutex
}

// NewRenderer creates a renderer; observer may be nil
func NewRenderer(source FlightSource, opts Options, observer Observer, log *logger.Logger) *Renderer {
	return &Renderer{
		source:   source,
		opts:     opts,
		observer: observer,
		logger:   log.Named("mapview"),
	}
}

// OutputPath is where the artifact is written
func (r *Renderer) OutputPath() string { return r.opts.OutputPath }

type mapFlight struct {
	FlightID      string       `json:"flight_id"`
	Color         string       `json:"color"`
	Path          [][2]float64 `json:"path"`
	Latest        [2]float64   `json:"latest"`
	Popup         string       `json:"popup"`
	Tooltip       string       `json:"tooltip"`
	PathTooltip   string       `json:"path_tooltip"`
	OriginTooltip string       `json:"origin_tooltip"`
	ShowOrigin    bool         `json:"show_origin"`
}

type pageData struct {
	CenterLat   float64
	CenterLon   float64
	Zoom        int
	TileURL     string
	Attribution string
	ActiveCount int
	Flights     []mapFlight
}

type popupData struct {
	FlightID   string
	Route      string
	Airline    string
	Altitude   string
	Speed      string
	Status     models.FlightStatus
	LastUpdate string
}

// Render lists the active flights and rewrites the artifact. It returns the
// number of active flights, including those without updates.
func (r *Renderer) Render(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	count, err := r.render(ctx)
	if r.observer != nil {
		r.observer.ObserveRender(time.Since(start), count, err)
	}
	if err != nil {
		return 0, &RenderError{Err: err}
	}

	r.logger.Debug("Map rendered",
		logger.Int("active_flights", count),
		logger.String("path", r.opts.OutputPath),
		logger.Duration("took", time.Since(start)))
	return count, nil
}

func (r *Renderer) render(ctx context.Context) (int, error) {
	flights, err := r.source.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active flights: %w", err)
	}

	var buf bytes.Buffer
	if err := r.Write(&buf, flights); err != nil {
		return 0, err
	}
	if err := writeAtomic(r.opts.OutputPath, buf.Bytes()); err != nil {
		return 0, err
	}
	return len(flights), nil
}

// Write renders the page for flights without touching the filesystem
func (r *Renderer) Write(w io.Writer, flights []*models.Flight) error {
	data := pageData{
		CenterLat:   r.opts.CenterLat,
		CenterLon:   r.opts.CenterLon,
		Zoom:        r.opts.Zoom,
		TileURL:     r.opts.TileURL,
		Attribution: r.opts.Attribution,
		ActiveCount: len(flights),
		Flights:     make([]mapFlight, 0, len(flights)),
	}

	for i, f := range flights {
		latest, ok := f.Latest()
		if !ok {
			continue
		}
		mf, err := buildMapFlight(f, latest, Palette[i%len(Palette)])
		if err != nil {
			return err
		}
		data.Flights = append(data.Flights, mf)
	}

	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute map template: %w", err)
	}
	return nil
}

func buildMapFlight(f *models.Flight, latest models.LocationUpdate, color string) (mapFlight, error) {
	path := make([][2]float64, 0, len(f.Updates))
	for _, u := range f.Updates {
		path = append(path, [2]float64{u.Latitude, u.Longitude})
	}

	var popup bytes.Buffer
	err := popupTemplate.Execute(&popup, popupData{
		FlightID:   f.FlightID,
		Route:      f.Route(),
		Airline:    f.Airline,
		Altitude:   formatNumber(latest.Altitude),
		Speed:      formatNumber(latest.Speed),
		Status:     f.Status,
		LastUpdate: models.FormatDisplayTime(latest.Timestamp),
	})
	if err != nil {
		return mapFlight{}, fmt.Errorf("failed to render popup for %s: %w", f.FlightID, err)
	}

	return mapFlight{
		FlightID:      f.FlightID,
		Color:         color,
		Path:          path,
		Latest:        [2]float64{latest.Latitude, latest.Longitude},
		Popup:         popup.String(),
		Tooltip:       html.EscapeString(f.FlightID),
		PathTooltip:   html.EscapeString("Flight: " + f.FlightID),
		OriginTooltip: html.EscapeString("Origin: " + f.Origin),
		ShowOrigin:    len(f.Updates) > 1,
	}, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeAtomic replaces path so readers never see a partial file
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create map directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".flight_map-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close map: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod map: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace map: %w", err)
	}
	return nil
}

// HandleEvent re-renders after every flight mutation
func (r *Renderer) HandleEvent(ctx context.Context, e events.Event) error {
	_, err := r.Render(ctx)
	return err
}

// ServeHTTP serves the artifact, rendering it first if it doesn't exist yet
func (r *Renderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if _, err := os.Stat(r.opts.OutputPath); err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error("Failed to stat map", logger.Error(err), logger.String("path", r.opts.OutputPath))
			writeError(w, http.StatusInternalServerError, "Failed to load map")
			return
		}
		if _, err := r.Render(req.Context()); err != nil {
			r.logger.Error("Failed to render map on demand", logger.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to generate map")
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	http.ServeFile(w, req, r.opts.OutputPath)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
