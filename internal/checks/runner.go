package checks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/events"
	"github.com/kandev/examlab/internal/events/bus"
	"github.com/kandev/examlab/internal/tracing"
)

// Recorder stores the latest result per task.
type Recorder interface {
	SetLastCheck(taskID int, res Result)
}

// Runner executes the routine registered for a task.
type Runner struct {
	registry     *Registry
	prober       Prober
	recorder     Recorder
	eventBus     bus.EventBus
	instanceName func(taskID int) string
	logger       *logger.Logger
	now          func() time.Time
}

func NewRunner(
	registry *Registry,
	prober Prober,
	recorder Recorder,
	eventBus bus.EventBus,
	instanceName func(taskID int) string,
	log *logger.Logger,
) *Runner {
	return &Runner{
		registry:     registry,
		prober:       prober,
		recorder:     recorder,
		eventBus:     eventBus,
		instanceName: instanceName,
		logger:       log.WithComponent("checks"),
		now:          time.Now,
	}
}

// Run verifies taskID and never fails: an unreachable instance yields StatusError.
func (r *Runner) Run(ctx context.Context, taskID int) Result {
	strategy := r.registry.Lookup(taskID)
	instance := r.instanceName(taskID)
	log := r.logger.WithTaskID(taskID)

	ctx, span := tracing.TraceCheckRun(ctx, taskID, strategy.String())

	var res Result
	if reach := r.prober.Run(ctx, instance, []string{"true"}); reach.Failed() {
		res = Result{
			Status:  StatusError,
			Summary: fmt.Sprintf("Container not available: %s: %s", instance, reach.Stderr),
			Details: []Detail{},
		}
	} else {
		target := NewTarget(instance, r.prober)
		details := make([]Detail, 0, len(strategy.Routine.Checks))
		for _, c := range strategy.Routine.Checks {
			details = append(details, runCheck(ctx, target, c))
		}
		res = aggregate(details)
	}
	res.Timestamp = r.now().UTC()

	tracing.EndWithStatus(span, string(res.Status), nil)
	log.Info("check run finished",
		zap.String("strategy", strategy.String()),
		zap.String("status", string(res.Status)),
		zap.String("summary", res.Summary),
	)

	r.recorder.SetLastCheck(taskID, res)
	r.publish(ctx, taskID, res)
	return res
}

func (r *Runner) publish(ctx context.Context, taskID int, res Result) {
	if r.eventBus == nil {
		return
	}
	evt := bus.NewEvent(events.CheckCompleted, "checks", map[string]any{
		"taskId":  taskID,
		"status":  string(res.Status),
		"summary": res.Summary,
	})
	if err := r.eventBus.Publish(ctx, events.CheckSubject(taskID), evt); err != nil {
		r.logger.Warn("failed to publish check result", zap.Int("task_id", taskID), zap.Error(err))
	}
}

// runCheck turns a panicking check into a failed detail.
func runCheck(ctx context.Context, t *Target, c Check) (d Detail) {
	d.Name = c.Name
	defer func() {
		if rec := recover(); rec != nil {
			d.Passed = false
			d.Message = fmt.Sprintf("Check error: %v", rec)
		}
	}()
	d.Passed, d.Message = c.Fn(ctx, t)
	return d
}

func aggregate(details []Detail) Result {
	if len(details) == 0 {
		return Result{Status: StatusFail, Summary: "No checks run.", Details: details}
	}
	passed := 0
	for _, d := range details {
		if d.Passed {
			passed++
		}
	}
	status := StatusFail
	if passed == len(details) {
		status = StatusPass
	}
	return Result{
		Status:  status,
		Summary: fmt.Sprintf("%d/%d checks passed.", passed, len(details)),
		Details: details,
	}
}
