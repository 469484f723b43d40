// Package rotation drives managed accounts through the credential
// rotation lifecycle and aggregates per-account outcomes into a batch
// summary.
package rotation

import (
	"context"
	"time"

	"github.com/systmms/svcrotate/internal/directory"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
	"github.com/systmms/svcrotate/internal/platform"
	"github.com/systmms/svcrotate/internal/secretsource"
)

// State is a step in the per-account lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateConfirming State = "confirming"
	StateApplying   State = "applying"
	StateVerifying  State = "verifying"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Terminal reports whether the state ends an account's run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// Request describes one account's rotation. Immutable once created.
type Request struct {
	Account             directory.ManagedAccount
	Mode                platform.Mode
	RequireConfirmation bool
	DryRun              bool
}

// Outcome is the terminal record for one account. Append-only: the
// orchestrator never mutates an outcome after the machine emits it.
type Outcome struct {
	Account   string
	State     State
	ErrorKind svcerrors.Kind
	Detail    string
	// ManualRemediation marks a partial apply: directory and platform
	// disagree and an operator must reconcile them.
	ManualRemediation bool
	DryRun            bool
	StartedAt         time.Time
	FinishedAt        time.Time
}

// ConfirmFunc asks the operator whether to rotate the account. A false
// answer skips the account without error.
type ConfirmFunc func(ctx context.Context, account directory.ManagedAccount) (bool, error)

// Machine runs a single account through its lifecycle. Per-account errors
// are converted to a Failed outcome at this boundary; they never escape
// to abort the batch.
type Machine struct {
	secrets secretsource.Provider
	store   platform.CredentialStore
	confirm ConfirmFunc
	logger  *logging.Logger
	metrics *Metrics
}

// NewMachine builds a rotation state machine. secrets may be nil when the
// batch runs in adopt-existing mode; confirm may be nil when per-account
// confirmation is disabled.
func NewMachine(secrets secretsource.Provider, store platform.CredentialStore, confirm ConfirmFunc, logger *logging.Logger, metrics *Metrics) *Machine {
	return &Machine{
		secrets: secrets,
		store:   store,
		confirm: confirm,
		logger:  logger,
		metrics: metrics,
	}
}

// Run drives the account to a terminal state and emits exactly one
// outcome. No account re-enters Pending within a run.
func (m *Machine) Run(ctx context.Context, req Request) Outcome {
	started := time.Now()
	id := req.Account.Identifier

	m.metrics.RecordStarted(string(req.Mode))
	m.transition(id, StatePending)

	if req.RequireConfirmation && m.confirm != nil {
		m.transition(id, StateConfirming)
		ok, err := m.confirm(ctx, req.Account)
		if err != nil {
			return m.finish(req, started, Outcome{
				Account: id,
				State:   StateSkipped,
				Detail:  "confirmation unavailable: " + err.Error(),
			})
		}
		if !ok {
			return m.finish(req, started, Outcome{
				Account: id,
				State:   StateSkipped,
				Detail:  "declined by operator",
			})
		}
	}

	m.transition(id, StateApplying)
	if req.DryRun {
		return m.finish(req, started, Outcome{
			Account: id,
			State:   StateSucceeded,
			DryRun:  true,
		})
	}

	if err := m.apply(ctx, req); err != nil {
		return m.finish(req, started, m.failed(id, err))
	}

	m.transition(id, StateVerifying)
	if err := m.store.Verify(ctx, req.Account, req.Mode); err != nil {
		// Verification only ever downgrades a successful apply.
		return m.finish(req, started, m.failed(id, err))
	}

	return m.finish(req, started, Outcome{Account: id, State: StateSucceeded})
}

// apply runs the provider and store for the Applying state. The secret
// buffer, when one exists, is destroyed before apply returns on every
// path; secret material never survives this state.
func (m *Machine) apply(ctx context.Context, req Request) error {
	if req.Mode != platform.ModeSetNew {
		return m.store.Apply(ctx, req.Account, req.Mode, nil)
	}

	secret, err := m.secrets.Obtain(ctx, req.Account)
	if err != nil {
		return err
	}
	defer secret.Destroy()

	return m.store.Apply(ctx, req.Account, req.Mode, secret)
}

func (m *Machine) failed(id string, err error) Outcome {
	kind := svcerrors.KindOf(err)
	return Outcome{
		Account:           id,
		State:             StateFailed,
		ErrorKind:         kind,
		Detail:            err.Error(),
		ManualRemediation: kind == svcerrors.KindPartialApply,
	}
}

func (m *Machine) finish(req Request, started time.Time, outcome Outcome) Outcome {
	outcome.StartedAt = started
	outcome.FinishedAt = time.Now()
	outcome.DryRun = outcome.DryRun || req.DryRun

	switch outcome.State {
	case StateSucceeded:
		m.logger.Info("%s: succeeded", outcome.Account)
	case StateSkipped:
		m.logger.Info("%s: skipped (%s)", outcome.Account, outcome.Detail)
	case StateFailed:
		if outcome.ManualRemediation {
			m.logger.Error("%s: failed (%s): directory and platform disagree, manual follow-up required", outcome.Account, outcome.ErrorKind)
		} else {
			m.logger.Error("%s: failed (%s)", outcome.Account, outcome.ErrorKind)
		}
	}

	m.metrics.RecordCompleted(string(req.Mode), string(outcome.State), outcome.FinishedAt.Sub(started))
	return outcome
}

func (m *Machine) transition(account string, state State) {
	m.logger.Debug("%s: %s", account, state)
}
