// Package task invokes the long-running capability discovery operation on
// each target, polls it to a terminal state, and classifies the outcome.
//
// Targets are processed strictly sequentially: the remote operation runs for
// tens of seconds per target, and sequential processing keeps the progress
// output deterministic for operators. A concurrent redesign would need a
// bounded worker pool, per-target failure isolation, and a synchronized merge
// into the shared report.
package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"vum-unrestrict/internal/connection"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/progress"
	"vum-unrestrict/internal/report"
	"vum-unrestrict/internal/target"
	"vum-unrestrict/internal/vsphere"
)

// Fixed operator-facing outcome messages
const (
	MessageUnrestricted = "Heterogeneous-hardware clusters(s) located."
	MessageRestricted   = "No heterogeneous-hardware clusters(s) located."
)

// Options holds orchestrator configuration
type Options struct {
	PollInterval time.Duration // Interval between task polls
	ShowProgress bool          // Display elapsed time while polling
	Orchestrated bool          // Control-plane mode: check domain health after success
	Writer       io.Writer     // Progress output destination (defaults to stdout)
}

// Orchestrator runs the remote operation on each target in turn
type Orchestrator struct {
	api    vsphere.TaskAPI
	conns  *connection.Manager
	logger *logging.Logger
	opts   Options
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(api vsphere.TaskAPI, conns *connection.Manager, logger *logging.Logger, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	return &Orchestrator{
		api:    api,
		conns:  conns,
		logger: logger,
		opts:   opts,
	}
}

// Item pairs a connected, version-admitted session with its target
type Item struct {
	Session *connection.Session
	Target  target.Target
}

// RunAll processes the items strictly sequentially. A failure on one target
// is recorded and the orchestrator moves on; it never aborts the run.
func (o *Orchestrator) RunAll(ctx context.Context, items []Item) []report.Record {
	records := make([]report.Record, 0, len(items))
	for _, item := range items {
		records = append(records, o.RunOperation(ctx, item.Session, item.Target))
	}
	return records
}

// RunOperation invokes the capability discovery on one target's session,
// polls it to a terminal state, and classifies the result.
func (o *Orchestrator) RunOperation(ctx context.Context, session *connection.Session, tgt target.Target) report.Record {
	if err := o.conns.Acquire(session); err != nil {
		return o.failed(tgt, err)
	}

	o.logger.LogTaskStart(tgt.Name)
	start := time.Now()

	handle, err := o.api.Invoke(ctx, session.Handle)
	if err != nil {
		// Invocation itself failed, for example when the endpoint lacks the
		// discovery capability. Do not poll.
		return o.failed(tgt, err)
	}

	ticker := progress.NewTicker(tgt.Name, o.opts.Writer, o.opts.ShowProgress)

	state, err := o.pollUntilTerminal(ctx, session, handle, ticker)
	if err != nil {
		ticker.Finish("failed")
		return o.failed(tgt, err)
	}

	o.logger.LogTaskComplete(tgt.Name, state, time.Since(start))

	rec := o.classifyTerminal(ctx, session, handle, tgt, state)
	ticker.Finish(string(rec.Status))

	if rec.Status == report.StatusUnrestricted && o.opts.Orchestrated {
		// Non-fatal: an unhealthy owning domain is worth a warning but never
		// changes the outcome.
		if isUnhealthy(tgt.Health) {
			o.logger.LogHealthWarning(tgt.Grouping, tgt.Health)
		}
	}

	return rec
}

// pollUntilTerminal polls the task on a fixed interval while it stays in the
// running superstate, displaying elapsed time on each poll.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, session *connection.Session, handle vsphere.TaskHandle, ticker *progress.Ticker) (string, error) {
	for {
		state, err := o.api.Poll(ctx, session.Handle, handle)
		if err != nil {
			return "", err
		}

		if !vsphere.IsRunningState(state) {
			return state, nil
		}

		ticker.Tick()

		select {
		case <-time.After(o.opts.PollInterval):
		case <-ctx.Done():
			return "", fmt.Errorf("polling interrupted: %w", ctx.Err())
		}
	}
}

// classifyTerminal fetches the result payload once and maps the terminal
// state onto the record statuses.
func (o *Orchestrator) classifyTerminal(ctx context.Context, session *connection.Session, handle vsphere.TaskHandle, tgt target.Target, state string) report.Record {
	switch state {
	case vsphere.TaskSucceeded:
		result, err := o.api.Result(ctx, session.Handle, handle)
		if err != nil {
			return o.failed(tgt, err)
		}
		if result.HeterogeneousClusters {
			return report.Record{
				Target:  tgt.Name,
				Status:  report.StatusUnrestricted,
				Message: MessageUnrestricted,
			}
		}
		return report.Record{
			Target:  tgt.Name,
			Status:  report.StatusRestricted,
			Message: MessageRestricted,
		}

	case vsphere.TaskBlocked:
		if result, err := o.api.Result(ctx, session.Handle, handle); err == nil {
			o.logger.LogTaskPayload(tgt.Name, state, result.Raw)
		}
		return report.Record{
			Target:  tgt.Name,
			Status:  report.StatusFailed,
			Message: "Capability discovery is blocked on the endpoint.",
		}

	default:
		// FAILED or an unrecognized terminal state
		if result, err := o.api.Result(ctx, session.Handle, handle); err == nil {
			o.logger.LogTaskPayload(tgt.Name, state, result.Raw)
		}
		return report.Record{
			Target:  tgt.Name,
			Status:  report.StatusFailed,
			Message: fmt.Sprintf("Capability discovery ended in state %s.", state),
		}
	}
}

// failed classifies an error into a Failed record for the target
func (o *Orchestrator) failed(tgt target.Target, err error) report.Record {
	o.logger.LogTaskError(tgt.Name, err)
	return report.Record{
		Target:  tgt.Name,
		Status:  report.StatusFailed,
		Message: errclass.Classify(err.Error(), errclass.KindTarget, tgt.Name, ""),
	}
}

// isUnhealthy reports whether a domain health status indicates an error
// condition. Healthy statuses differ across control-plane releases; anything
// other than an active/healthy spelling is treated as a warning condition.
func isUnhealthy(health string) bool {
	switch health {
	case "", "ACTIVE", "HEALTHY", "OK", "GREEN":
		return false
	default:
		return true
	}
}
