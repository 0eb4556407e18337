package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
)

// RenderMapName is the name the render activity is registered under
const RenderMapName = "RenderMap"

// MapRenderer regenerates the map artifact and reports how many active flights it drew
type MapRenderer interface {
	Render(ctx context.Context) (int, error)
}

// RenderMapInput identifies the mutation that triggered the render
type RenderMapInput struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	FlightID  string `json:"flightId"`
}

// RenderMapOutput is the result of a render
type RenderMapOutput struct {
	ActiveFlights int       `json:"activeFlights"`
	RenderedAt    time.Time `json:"renderedAt"`
}

// Activities holds the dependencies of the worker's activities
type Activities struct {
	Renderer MapRenderer
}

// RenderMap rebuilds the map from the store. Failures are returned so the
// workflow's retry policy applies.
func (a *Activities) RenderMap(ctx context.Context, input RenderMapInput) (*RenderMapOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Rendering flight map",
		"eventId", input.EventID,
		"eventType", input.EventType,
		"flightId", input.FlightID,
		"attempt", activity.GetInfo(ctx).Attempt)

	if a.Renderer == nil {
		return nil, fmt.Errorf("no map renderer configured")
	}

	count, err := a.Renderer.Render(ctx)
	if err != nil {
		logger.Error("Map render failed", "error", err)
		return nil, fmt.Errorf("failed to render map: %w", err)
	}

	return &RenderMapOutput{
		ActiveFlights: count,
		RenderedAt:    time.Now().UTC(),
	}, nil
}
