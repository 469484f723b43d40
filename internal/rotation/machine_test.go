package rotation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/svcrotate/internal/directory"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
	"github.com/systmms/svcrotate/internal/platform"
	"github.com/systmms/svcrotate/internal/secure"
)

// fakeStore implements platform.CredentialStore with scriptable failures.
type fakeStore struct {
	mu        sync.Mutex
	applyErr  map[string]error
	verifyErr map[string]error
	applied   []string
	verified  []string
	sawSecret map[string]bool
}

func (f *fakeStore) Apply(ctx context.Context, account directory.ManagedAccount, mode platform.Mode, secret *secure.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[account.Identifier]; err != nil {
		return err
	}
	f.applied = append(f.applied, account.Identifier)
	if f.sawSecret == nil {
		f.sawSecret = make(map[string]bool)
	}
	f.sawSecret[account.Identifier] = secret != nil
	return nil
}

func (f *fakeStore) Verify(ctx context.Context, account directory.ManagedAccount, mode platform.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.verifyErr[account.Identifier]; err != nil {
		return err
	}
	f.verified = append(f.verified, account.Identifier)
	return nil
}

// fakeProvider hands out sealed copies of one value, remembering the
// buffers so tests can check they were destroyed.
type fakeProvider struct {
	mu      sync.Mutex
	value   string
	err     error
	handed  []*secure.Buffer
	obtains int
}

func (f *fakeProvider) Obtain(ctx context.Context, account directory.ManagedAccount) (*secure.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obtains++
	if f.err != nil {
		return nil, f.err
	}
	buf := secure.NewBufferFromString(f.value)
	f.handed = append(f.handed, buf)
	return buf, nil
}

func mkAccount(id string) directory.ManagedAccount {
	return directory.ManagedAccount{Identifier: id, DN: "CN=" + id + ",OU=Service Accounts,DC=corp,DC=example"}
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(&bytes.Buffer{}, false)
}

func TestMachineAdoptSucceeds(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{value: "unused"}
	m := NewMachine(provider, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeAdoptExisting})

	assert.Equal(t, StateSucceeded, outcome.State)
	assert.Equal(t, []string{"svc-1"}, store.applied)
	assert.Equal(t, []string{"svc-1"}, store.verified)
	assert.Zero(t, provider.obtains, "adopt-existing must not invoke the secret provider")
	assert.False(t, store.sawSecret["svc-1"])
}

func TestMachineSetNewPassesSecretAndDestroysIt(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{value: "fresh-credential"}
	m := NewMachine(provider, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeSetNew})

	assert.Equal(t, StateSucceeded, outcome.State)
	assert.True(t, store.sawSecret["svc-1"])
	require.Len(t, provider.handed, 1)
	assert.True(t, provider.handed[0].Destroyed(), "secret must not survive the applying state")
}

func TestMachineWeakSecretFails(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{err: svcerrors.E(svcerrors.KindWeakSecret, "svc-1", errors.New("length 3 below minimum 8"))}
	m := NewMachine(provider, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeSetNew})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, svcerrors.KindWeakSecret, outcome.ErrorKind)
	assert.Empty(t, store.applied, "apply must not run when the provider fails")
}

func TestMachinePartialApplyFlagsManualRemediation(t *testing.T) {
	store := &fakeStore{applyErr: map[string]error{
		"svc-2": svcerrors.E(svcerrors.KindPartialApply, "svc-2", errors.New("platform returned 500")),
	}}
	provider := &fakeProvider{value: "fresh-credential"}
	m := NewMachine(provider, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-2"), Mode: platform.ModeSetNew})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, svcerrors.KindPartialApply, outcome.ErrorKind)
	assert.True(t, outcome.ManualRemediation)
	require.Len(t, provider.handed, 1)
	assert.True(t, provider.handed[0].Destroyed(), "secret must be erased on the failed path too")
}

func TestMachineVerificationDowngradesOnly(t *testing.T) {
	store := &fakeStore{verifyErr: map[string]error{
		"svc-1": svcerrors.E(svcerrors.KindVerificationFailed, "svc-1", errors.New("mode mismatch")),
	}}
	m := NewMachine(nil, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeAdoptExisting})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, svcerrors.KindVerificationFailed, outcome.ErrorKind)
	assert.Equal(t, []string{"svc-1"}, store.applied, "apply ran before verification failed")
}

func TestMachineConfirmationDeclinedSkips(t *testing.T) {
	store := &fakeStore{}
	confirm := func(ctx context.Context, account directory.ManagedAccount) (bool, error) {
		return false, nil
	}
	m := NewMachine(nil, store, confirm, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{
		Account:             mkAccount("svc-3"),
		Mode:                platform.ModeAdoptExisting,
		RequireConfirmation: true,
	})

	assert.Equal(t, StateSkipped, outcome.State)
	assert.Contains(t, outcome.Detail, "declined")
	assert.Empty(t, store.applied, "no apply for a declined account")
}

func TestMachineConfirmationAccepted(t *testing.T) {
	store := &fakeStore{}
	confirm := func(ctx context.Context, account directory.ManagedAccount) (bool, error) {
		return true, nil
	}
	m := NewMachine(nil, store, confirm, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{
		Account:             mkAccount("svc-3"),
		Mode:                platform.ModeAdoptExisting,
		RequireConfirmation: true,
	})

	assert.Equal(t, StateSucceeded, outcome.State)
}

func TestMachineDryRunTouchesNothing(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{value: "unused"}
	m := NewMachine(provider, store, nil, quietLogger(), nil)

	outcome := m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeSetNew, DryRun: true})

	assert.Equal(t, StateSucceeded, outcome.State)
	assert.True(t, outcome.DryRun)
	assert.Zero(t, provider.obtains)
	assert.Empty(t, store.applied)
	assert.Empty(t, store.verified)
}

func TestMachineNeverLogsSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, true)

	store := &fakeStore{applyErr: map[string]error{
		"svc-1": svcerrors.E(svcerrors.KindPartialApply, "svc-1", errors.New("platform returned 500")),
	}}
	provider := &fakeProvider{value: "tOpSeCrEt-marker-9000"}
	m := NewMachine(provider, store, nil, logger, nil)

	m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeSetNew})
	m.Run(context.Background(), Request{Account: mkAccount("svc-1"), Mode: platform.ModeSetNew})

	assert.NotContains(t, buf.String(), "tOpSeCrEt-marker-9000")
}
