package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/cx-tal-miterani/flight-tracker/internal/activities"
)

const (
	// RenderMapWorkflowName is the name the workflow is registered under
	RenderMapWorkflowName = "RenderMapWorkflow"
	// RenderTimeout bounds a single render attempt
	RenderTimeout = 30 * time.Second
	// MaxRenderAttempts is how often a failing render is retried
	MaxRenderAttempts = 3
)

// RenderMapResult is the result of the render workflow
type RenderMapResult struct {
	ActiveFlights int       `json:"activeFlights"`
	RenderedAt    time.Time `json:"renderedAt"`
}

// RenderMapWorkflow regenerates the flight map after a mutation
func RenderMapWorkflow(ctx workflow.Context, input activities.RenderMapInput) (*RenderMapResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Render workflow started", "flightId", input.FlightID, "eventType", input.EventType)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: RenderTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    MaxRenderAttempts,
		},
	})

	var out activities.RenderMapOutput
	if err := workflow.ExecuteActivity(ctx, activities.RenderMapName, input).Get(ctx, &out); err != nil {
		logger.Error("Render activity failed", "error", err)
		return nil, err
	}

	logger.Info("Render workflow completed", "activeFlights", out.ActiveFlights)
	return &RenderMapResult{
		ActiveFlights: out.ActiveFlights,
		RenderedAt:    out.RenderedAt,
	}, nil
}
