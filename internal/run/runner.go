// Package run drives a complete unrestrict pass across a fleet of vCenter
// targets, either through an SDDC Manager control plane or against endpoints
// named directly on the command line.
package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"vum-unrestrict/internal/connection"
	"vum-unrestrict/internal/credential"
	"vum-unrestrict/internal/errclass"
	"vum-unrestrict/internal/filter"
	"vum-unrestrict/internal/logging"
	"vum-unrestrict/internal/prompt"
	"vum-unrestrict/internal/report"
	"vum-unrestrict/internal/target"
	"vum-unrestrict/internal/task"
	"vum-unrestrict/internal/vsphere"
)

// Mode selects how targets are discovered and authenticated.
type Mode string

const (
	// ModeOrchestrated discovers targets and credentials through the
	// control plane.
	ModeOrchestrated Mode = "orchestrated"
	// ModeDirect processes the endpoints the operator named, prompting
	// for credentials per target.
	ModeDirect Mode = "direct"
)

// ControlPlaneAPI is everything the runner needs from an SDDC Manager:
// session lifecycle, workload-domain discovery, and credential lookup.
type ControlPlaneAPI interface {
	vsphere.Transport
	vsphere.Directory
	credential.Store
}

// TargetAPI is everything the runner needs from a vCenter endpoint.
type TargetAPI interface {
	vsphere.Transport
	vsphere.TaskAPI
}

// Options configures a run.
type Options struct {
	Mode Mode

	// RunID labels log lines and the exported report. Generated when empty.
	RunID string

	// ControlPlane is the SDDC Manager FQDN (orchestrated mode only).
	ControlPlane string

	// Targets are the endpoints to process in direct mode.
	Targets []target.Target

	// Filters restrict which discovered or named targets are processed.
	Filters []filter.Filter

	MinControlPlaneVersion string
	MinTargetVersion       string

	PollInterval    time.Duration
	ShowProgress    bool
	ConnectAttempts int

	// DefaultUsername pre-fills credential prompts.
	DefaultUsername string

	// StaticCredential, when set, is used for the first connection attempt
	// to every endpoint instead of prompting. Later attempts still prompt.
	StaticCredential *credential.Credential

	// Writer receives progress output and defaults to stdout.
	Writer io.Writer
}

// Runner executes one unrestrict pass and accumulates per-target results.
type Runner struct {
	opts     Options
	logger   *logging.Logger
	prompter *prompt.Prompter
	cp       ControlPlaneAPI
	tg       TargetAPI
}

// NewRunner creates a runner. cp may be nil in direct mode.
func NewRunner(opts Options, logger *logging.Logger, prompter *prompt.Prompter, cp ControlPlaneAPI, tg TargetAPI) *Runner {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Runner{
		opts:     opts,
		logger:   logger,
		prompter: prompter,
		cp:       cp,
		tg:       tg,
	}
}

// Run executes the configured mode and returns the consolidated report.
// The aggregator is returned even on error so partial results can be
// rendered.
func (r *Runner) Run(ctx context.Context) (*report.Aggregator, error) {
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	conns := connection.NewManager(r.logger)
	agg := report.NewAggregator()

	r.logger.LogRunStart(runID, string(r.opts.Mode))
	defer conns.DisconnectAll(ctx)

	start := time.Now()
	var err error
	switch r.opts.Mode {
	case ModeOrchestrated:
		err = r.runOrchestrated(ctx, conns, agg)
	case ModeDirect:
		err = r.runDirect(ctx, conns, agg)
	default:
		return agg, errclass.NewParameterError(fmt.Sprintf("unknown run mode %q", r.opts.Mode), nil)
	}
	if err != nil {
		return agg, err
	}

	sum := agg.Summarize()
	r.logger.LogRunSummary(runID, sum.Total, sum.Unrestricted, sum.Restricted, sum.Unsupported, sum.Failed, time.Since(start))
	if sum.Failed > 0 {
		return agg, errclass.NewTaskError(fmt.Sprintf("%d of %d targets failed", sum.Failed, sum.Total), nil)
	}
	return agg, nil
}

func (r *Runner) runOrchestrated(ctx context.Context, conns *connection.Manager, agg *report.Aggregator) error {
	if r.cp == nil {
		return errclass.NewConfigurationError("no control plane endpoint configured", nil)
	}

	cpSession, err := r.connectLoop(ctx, conns, r.cp, errclass.KindControlPlane, r.opts.ControlPlane, r.opts.DefaultUsername)
	if err != nil {
		return err
	}
	if err := conns.EnforceVersionGate(ctx, cpSession, r.opts.MinControlPlaneVersion); err != nil {
		// No fallback exists for the sole control plane endpoint.
		return err
	}

	groupings, err := r.cp.ListGroupings(ctx)
	if err != nil {
		r.logger.LogDiscoveryError(r.opts.ControlPlane, err)
		return errclass.NewConnectionError(
			errclass.Classify(err.Error(), errclass.KindControlPlane, r.opts.ControlPlane, ""), err)
	}

	targets := targetsFromGroupings(groupings)
	targets = filter.FilterTargets(targets, r.opts.Filters...)
	r.logger.LogDiscovery(r.opts.ControlPlane, len(targets))
	if len(targets) == 0 {
		return errclass.NewNotFoundError("no vCenter targets discovered from the control plane", nil)
	}

	resolver := credential.NewResolver(r.cp)
	defer resolver.WipeAll()

	orch := task.NewOrchestrator(r.tg, conns, r.logger, task.Options{
		PollInterval: r.opts.PollInterval,
		ShowProgress: r.opts.ShowProgress,
		Orchestrated: true,
		Writer:       r.opts.Writer,
	})

	for _, t := range targets {
		agg.Upsert(report.Record{Target: t.Name, Status: report.StatusNotUpdated, Message: "Not attempted."})

		cred, err := resolver.Resolve(ctx, t.Realm, t.Primary)
		if err != nil {
			if errors.Is(err, credential.ErrInsufficientPermission) {
				// Reading the credential store needs ADMIN rights; a
				// second target will fail the same way.
				return errclass.NewAuthenticationError(
					fmt.Sprintf("insufficient permission to read credentials for %s; an ADMIN role is required", t.Name), err)
			}
			r.logger.Error("credential resolution failed", "endpoint", t.Name, "error", err.Error())
			agg.Upsert(report.Record{
				Target:  t.Name,
				Status:  report.StatusFailed,
				Message: fmt.Sprintf("No stored credential found for %s.", t.Name),
			})
			continue
		}

		r.logger.LogCredentialResolved(t.Realm, cred.Username)

		sess, err := conns.Connect(ctx, r.tg, errclass.KindTarget, t.Name, cred)
		cred.Wipe()
		if err != nil {
			agg.Upsert(report.Record{Target: t.Name, Status: report.StatusFailed, Message: err.Error()})
			continue
		}

		r.processTarget(ctx, conns, agg, orch, sess, t)
	}
	return nil
}

func (r *Runner) runDirect(ctx context.Context, conns *connection.Manager, agg *report.Aggregator) error {
	targets := filter.FilterTargets(r.opts.Targets, r.opts.Filters...)
	if len(targets) == 0 {
		return errclass.NewNotFoundError("no vCenter targets to process", nil)
	}

	orch := task.NewOrchestrator(r.tg, conns, r.logger, task.Options{
		PollInterval: r.opts.PollInterval,
		ShowProgress: r.opts.ShowProgress,
		Writer:       r.opts.Writer,
	})

	connected := 0
	cancelled := 0
	for _, t := range targets {
		agg.Upsert(report.Record{Target: t.Name, Status: report.StatusNotUpdated, Message: "Not attempted."})

		user := t.Username
		if user == "" {
			user = r.opts.DefaultUsername
		}
		sess, err := r.connectLoop(ctx, conns, r.tg, errclass.KindTarget, t.Name, user)
		if err != nil {
			if errclass.CodeFor(err) == errclass.ExitUserCancelled {
				cancelled++
			}
			agg.Upsert(report.Record{Target: t.Name, Status: report.StatusFailed, Message: err.Error()})
			continue
		}
		connected++

		r.processTarget(ctx, conns, agg, orch, sess, t)
	}

	if connected == 0 && cancelled > 0 {
		return errclass.NewUserCancelledError("run cancelled before any vCenter connection was established")
	}
	return nil
}

// processTarget runs the version gate and the discovery task against one
// connected session, records the outcome, and tears the session down.
func (r *Runner) processTarget(ctx context.Context, conns *connection.Manager, agg *report.Aggregator, orch *task.Orchestrator, sess *connection.Session, t target.Target) {
	if err := conns.EnforceVersionGate(ctx, sess, r.opts.MinTargetVersion); err != nil {
		agg.Upsert(report.Record{Target: t.Name, Status: report.StatusUnsupported, Message: err.Error()})
		return
	}

	rec := orch.RunOperation(ctx, sess, t)
	agg.Upsert(rec)

	if err := conns.Disconnect(ctx, t.Name); err != nil {
		r.logger.LogSessionCloseError(t.Name, err)
	}
}

// connectLoop attempts a session, reprompting for credentials on failure up
// to ConnectAttempts times. Declining a retry cancels the attempt.
func (r *Runner) connectLoop(ctx context.Context, conns *connection.Manager, transport vsphere.Transport, kind errclass.ConnectionKind, endpoint, defaultUser string) (*connection.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.ConnectAttempts; attempt++ {
		cred, err := r.credentialFor(endpoint, defaultUser, attempt)
		if err != nil {
			return nil, err
		}

		sess, err := conns.Connect(ctx, transport, kind, endpoint, cred)
		cred.Wipe()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		r.logger.LogSessionOpenError(endpoint, err, attempt)

		if attempt == r.opts.ConnectAttempts || !r.prompter.Interactive() {
			break
		}
		fmt.Fprintln(r.opts.Writer, lastErr.Error())
		retry, perr := r.prompter.Confirm(fmt.Sprintf("Retry connection to %s?", endpoint))
		if perr != nil || !retry {
			return nil, errclass.NewUserCancelledError(fmt.Sprintf("connection to %s cancelled by operator", endpoint))
		}
	}
	return nil, lastErr
}

// credentialFor produces the credential for one connection attempt: the
// static credential on the first attempt when one was supplied, an
// interactive prompt otherwise.
func (r *Runner) credentialFor(endpoint, defaultUser string, attempt int) (credential.Credential, error) {
	if r.opts.StaticCredential != nil && attempt == 1 {
		return r.opts.StaticCredential.Clone(), nil
	}
	if !r.prompter.Interactive() {
		return credential.Credential{}, errclass.NewParameterError(
			fmt.Sprintf("no credentials available for %s and standard input is not a terminal", endpoint), nil)
	}
	cred, err := r.prompter.Credential(endpoint, defaultUser)
	if err != nil {
		return credential.Credential{}, errclass.NewUserCancelledError(
			fmt.Sprintf("credential entry for %s cancelled", endpoint))
	}
	return cred, nil
}

// targetsFromGroupings maps workload domains onto processable targets,
// skipping domains that expose no vCenter endpoint.
func targetsFromGroupings(groupings []vsphere.Grouping) []target.Target {
	targets := make([]target.Target, 0, len(groupings))
	for _, g := range groupings {
		if g.MemberEndpoint == "" {
			continue
		}
		targets = append(targets, target.Target{
			Name:     g.MemberEndpoint,
			Realm:    g.ID,
			Grouping: g.Name,
			Primary:  g.PrimaryRealm,
			Health:   g.Health,
			Original: g.MemberEndpoint,
		})
	}
	return targets
}
