// Package platform applies credential changes to the farm platform's
// managed-account registry.
package platform

import (
	"context"

	"github.com/systmms/svcrotate/internal/directory"
	"github.com/systmms/svcrotate/internal/secure"
)

// Mode selects how the batch rotates credentials. Chosen once per run and
// applied uniformly to every account.
type Mode string

const (
	// ModeAdoptExisting synchronizes the platform's stored credential to
	// the directory's current value. No secret is supplied.
	ModeAdoptExisting Mode = "adopt-existing"

	// ModeSetNew writes a supplied secret to the directory first, then to
	// the platform.
	ModeSetNew Mode = "set-new"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAdoptExisting || m == ModeSetNew
}

// CredentialStore applies and verifies credential changes for one account.
//
// In set-new mode the directory write happens before the platform write.
// When the directory write succeeds but the platform write fails, Apply
// returns a PartialApply error: directory and platform now disagree and
// the account needs manual follow-up. A directory write failure is
// DirectoryRejected and leaves the platform untouched.
type CredentialStore interface {
	// Apply performs the credential change. secret is nil in
	// adopt-existing mode.
	Apply(ctx context.Context, account directory.ManagedAccount, mode Mode, secret *secure.Buffer) error

	// Verify re-reads the platform's stored credential state and checks
	// it reflects the applied mode. Best-effort: a failure downgrades an
	// otherwise successful apply, never upgrades a failed one.
	Verify(ctx context.Context, account directory.ManagedAccount, mode Mode) error
}
