package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/cx-tal-miterani/flight-tracker/internal/activities"
	"github.com/cx-tal-miterani/flight-tracker/internal/events"
	"github.com/cx-tal-miterani/flight-tracker/internal/logger"
)

// WorkflowStarter is the part of client.Client the dispatcher needs
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Dispatcher starts a render workflow for every flight event. The API
// process never waits for the result; cmd/worker executes it.
type Dispatcher struct {
	client    WorkflowStarter
	taskQueue string
	logger    *logger.Logger
}

// NewDispatcher creates a Dispatcher for the given task queue
func NewDispatcher(c WorkflowStarter, taskQueue string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		client:    c,
		taskQueue: taskQueue,
		logger:    log.Named("temporal-dispatch"),
	}
}

// HandleEvent implements events.Handler
func (d *Dispatcher) HandleEvent(ctx context.Context, e events.Event) error {
	opts := client.StartWorkflowOptions{
		ID:        "render-map-" + uuid.NewString(),
		TaskQueue: d.taskQueue,
	}
	input := activities.RenderMapInput{
		EventID:   e.ID,
		EventType: string(e.Type),
		FlightID:  e.FlightID,
	}

	run, err := d.client.ExecuteWorkflow(ctx, opts, RenderMapWorkflowName, input)
	if err != nil {
		return fmt.Errorf("failed to start render workflow: %w", err)
	}

	runID := ""
	if run != nil {
		runID = run.GetRunID()
	}
	d.logger.Debug("Render workflow started",
		logger.String("workflow_id", opts.ID),
		logger.String("run_id", runID),
		logger.String("flight_id", e.FlightID))
	return nil
}
