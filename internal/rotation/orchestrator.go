package rotation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/systmms/svcrotate/internal/directory"
	"github.com/systmms/svcrotate/internal/logging"
	"github.com/systmms/svcrotate/internal/platform"
	"github.com/systmms/svcrotate/internal/propagate"
)

// RunOptions configures one batch invocation.
type RunOptions struct {
	Filter              string
	Mode                platform.Mode
	ConfirmEach         bool
	SuppressPropagation bool
	// MaxConcurrency bounds the worker pool; values below 2 run the
	// batch sequentially.
	MaxConcurrency int
	DryRun         bool
}

// Summary aggregates every outcome of one run. The outcome slice is
// ordered by account identifier regardless of completion order.
type Summary struct {
	RunID    string
	Outcomes []Outcome

	Succeeded         int
	Skipped           int
	Failed            int
	ManualRemediation int

	// Aborted is set when cancellation stopped the run before every
	// account was launched. Propagation is skipped entirely on abort.
	Aborted bool

	PropagationAttempted bool
	PropagationError     string
}

// AnySucceeded reports whether at least one rotation succeeded for real
// (dry-run successes do not count).
func (s *Summary) AnySucceeded() bool {
	for _, o := range s.Outcomes {
		if o.State == StateSucceeded && !o.DryRun {
			return true
		}
	}
	return false
}

// AnyFailed reports whether any account failed.
func (s *Summary) AnyFailed() bool {
	return s.Failed > 0
}

// Orchestrator enumerates accounts and runs the state machine per account
// with failure isolation: one account's failure never halts the rest.
type Orchestrator struct {
	dir     directory.Directory
	machine *Machine
	trigger propagate.Trigger
	logger  *logging.Logger
	metrics *Metrics
}

// NewOrchestrator builds a batch orchestrator. trigger may be nil when no
// propagation is configured.
func NewOrchestrator(dir directory.Directory, machine *Machine, trigger propagate.Trigger, logger *logging.Logger, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		dir:     dir,
		machine: machine,
		trigger: trigger,
		logger:  logger,
		metrics: metrics,
	}
}

// SerializeConfirm wraps a confirmation port so at most one prompt is
// open at a time. mu must be shared with every other consumer of the
// underlying input stream (the interactive secret prompt in particular),
// otherwise the two prompt types race on the same reader. A nil mu gets
// a private mutex.
func SerializeConfirm(mu *sync.Mutex, confirm ConfirmFunc) ConfirmFunc {
	if confirm == nil {
		return nil
	}
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return func(ctx context.Context, account directory.ManagedAccount) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return confirm(ctx, account)
	}
}

// Run executes one batch. A DirectoryUnavailable error aborts before any
// account is processed; zero matching accounts is a valid empty run, not
// an error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}

	accounts, err := o.dir.List(ctx, opts.Filter)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("run %s: %d accounts match filter %q", summary.RunID, len(accounts), opts.Filter)
	if len(accounts) == 0 {
		o.logger.Info("No accounts match filter %q, nothing to do", opts.Filter)
		return summary, nil
	}

	requests := make([]Request, len(accounts))
	for i, acct := range accounts {
		requests[i] = Request{
			Account:             acct,
			Mode:                opts.Mode,
			RequireConfirmation: opts.ConfirmEach,
			DryRun:              opts.DryRun,
		}
	}

	if opts.MaxConcurrency > 1 {
		summary.Outcomes, summary.Aborted = o.runConcurrent(ctx, requests, opts.MaxConcurrency)
	} else {
		summary.Outcomes, summary.Aborted = o.runSequential(ctx, requests)
	}

	// Deterministic report order regardless of completion order.
	sort.Slice(summary.Outcomes, func(i, j int) bool {
		return summary.Outcomes[i].Account < summary.Outcomes[j].Account
	})
	o.tally(summary)

	o.propagation(ctx, opts, summary)
	o.logSummary(summary)
	return summary, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, requests []Request) ([]Outcome, bool) {
	outcomes := make([]Outcome, 0, len(requests))
	aborted := false
	for _, req := range requests {
		if ctx.Err() != nil {
			aborted = true
			outcomes = append(outcomes, abortedOutcome(req))
			continue
		}
		outcomes = append(outcomes, o.machine.Run(ctx, req))
	}
	return outcomes, aborted
}

func (o *Orchestrator) runConcurrent(ctx context.Context, requests []Request, workers int) ([]Outcome, bool) {
	if workers > len(requests) {
		workers = len(requests)
	}

	// Identifiers are unique per run, so no two workers ever touch the
	// same account.
	work := make(chan Request)
	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(requests))
	aborted := false

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range work {
				outcome := o.machine.Run(ctx, req)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
		}()
	}

	for _, req := range requests {
		if aborted || ctx.Err() != nil {
			aborted = true
			mu.Lock()
			outcomes = append(outcomes, abortedOutcome(req))
			mu.Unlock()
			continue
		}
		select {
		case <-ctx.Done():
			// Stop launching; in-flight work drains to a terminal
			// state before the join below.
			aborted = true
			mu.Lock()
			outcomes = append(outcomes, abortedOutcome(req))
			mu.Unlock()
		case work <- req:
		}
	}
	close(work)
	wg.Wait()

	return outcomes, aborted
}

func abortedOutcome(req Request) Outcome {
	return Outcome{
		Account: req.Account.Identifier,
		State:   StateSkipped,
		Detail:  "run aborted before processing",
	}
}

func (o *Orchestrator) tally(summary *Summary) {
	for _, outcome := range summary.Outcomes {
		switch outcome.State {
		case StateSucceeded:
			summary.Succeeded++
		case StateSkipped:
			summary.Skipped++
		case StateFailed:
			summary.Failed++
			if outcome.ManualRemediation {
				summary.ManualRemediation++
			}
		}
	}
}

// propagation fires the trigger at most once, strictly after every
// account reached a terminal state. Failure is recorded as a warning on
// the summary, never re-raised: the rotations themselves already
// succeeded.
func (o *Orchestrator) propagation(ctx context.Context, opts RunOptions, summary *Summary) {
	switch {
	case summary.Aborted:
		o.logger.Warn("Run aborted, skipping propagation")
		return
	case opts.SuppressPropagation:
		o.logger.Debug("Propagation suppressed by operator")
		return
	case opts.DryRun:
		return
	case !summary.AnySucceeded():
		return
	case o.trigger == nil:
		o.logger.Warn("No propagation configured; dependent services must be restarted manually")
		return
	}

	summary.PropagationAttempted = true
	if err := o.trigger.Trigger(ctx); err != nil {
		summary.PropagationError = err.Error()
		o.metrics.RecordPropagation("failed")
		o.logger.Warn("Propagation failed: %v (rotations remain applied)", err)
		return
	}
	o.metrics.RecordPropagation("succeeded")
}

func (o *Orchestrator) logSummary(summary *Summary) {
	o.logger.Info("run %s: succeeded=%d skipped=%d failed=%d manualRemediationNeeded=%d",
		summary.RunID, summary.Succeeded, summary.Skipped, summary.Failed, summary.ManualRemediation)
}

// ExitCode maps the summary onto the process exit code contract.
func (s *Summary) ExitCode() int {
	switch {
	case s.AnyFailed():
		return 1
	case s.PropagationError != "":
		return 3
	default:
		return 0
	}
}
