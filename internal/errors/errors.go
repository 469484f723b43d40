// Package errors defines the error taxonomy for credential rotation.
//
// Per-account failures carry a Kind so the orchestrator can record them on
// the account's outcome without aborting the batch. Batch-fatal and
// post-batch conditions have their own kinds and are handled at the
// command boundary.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a rotation failure.
type Kind string

const (
	// KindDirectoryUnavailable means the identity store could not be
	// reached at all. Batch-fatal: nothing was processed.
	KindDirectoryUnavailable Kind = "directory_unavailable"

	// KindEmptySecret means the secret provider supplied a blank value.
	KindEmptySecret Kind = "empty_secret"

	// KindWeakSecret means the supplied value failed the strength policy.
	KindWeakSecret Kind = "weak_secret"

	// KindDirectoryRejected means the directory refused the password
	// write. The platform was not touched.
	KindDirectoryRejected Kind = "directory_rejected"

	// KindPlatformRejected means the platform refused the credential.
	KindPlatformRejected Kind = "platform_rejected"

	// KindPartialApply means the directory write succeeded but the
	// platform write did not. Directory and platform now disagree and the
	// account needs manual follow-up.
	KindPartialApply Kind = "partial_apply"

	// KindVerificationFailed means the post-apply read-back did not
	// reflect the new credential state.
	KindVerificationFailed Kind = "verification_failed"

	// KindPropagationFailed means the post-batch service restart failed.
	// Recorded outcomes stay valid.
	KindPropagationFailed Kind = "propagation_failed"
)

// RotationError is a classified rotation failure.
type RotationError struct {
	Kind    Kind
	Account string
	Err     error
}

func (e *RotationError) Error() string {
	msg := string(e.Kind)
	if e.Account != "" {
		msg = fmt.Sprintf("%s: %s", e.Account, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// E builds a RotationError for an account.
func E(kind Kind, account string, err error) *RotationError {
	return &RotationError{Kind: kind, Account: account, Err: err}
}

// KindOf extracts the Kind from an error chain, or "" if unclassified.
func KindOf(err error) Kind {
	var re *RotationError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsBatchFatal reports whether the error must abort the run before any
// account is processed.
func IsBatchFatal(err error) bool {
	return KindOf(err) == KindDirectoryUnavailable
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ExitError carries a process exit code decided by the rotate command.
// main unwraps it instead of defaulting to exit code 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCodeOf returns the exit code for err: an embedded ExitError wins,
// anything else maps to 1, nil to 0.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
