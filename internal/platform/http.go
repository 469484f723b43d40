package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/systmms/svcrotate/internal/config"
	"github.com/systmms/svcrotate/internal/directory"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
	"github.com/systmms/svcrotate/internal/secure"
)

// HTTPStore talks to the platform's credential API over JSON/HTTP. For
// set-new mode it also owns the preceding directory password write, so the
// caller sees the pair as one apply with PartialApply as the explicit
// in-between failure state.
type HTTPStore struct {
	baseURL string
	token   string
	dir     directory.Directory
	client  *http.Client
	logger  *logging.Logger
}

// NewHTTPStore creates a credential store client for the configured
// platform endpoint.
func NewHTTPStore(cfg config.PlatformConfig, token string, dir directory.Directory, logger *logging.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL: cfg.URL,
		token:   token,
		dir:     dir,
		client: &http.Client{
			Timeout: cfg.PlatformTimeout(),
		},
		logger: logger,
	}
}

type credentialRequest struct {
	Mode   Mode   `json:"mode"`
	Secret string `json:"secret,omitempty"`
}

type credentialState struct {
	Mode      Mode      `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Apply performs the credential change for one account.
func (s *HTTPStore) Apply(ctx context.Context, account directory.ManagedAccount, mode Mode, secret *secure.Buffer) error {
	switch mode {
	case ModeAdoptExisting:
		if err := s.postCredential(ctx, account, credentialRequest{Mode: mode}); err != nil {
			return svcerrors.E(svcerrors.KindPlatformRejected, account.Identifier, err)
		}
		return nil

	case ModeSetNew:
		if secret == nil {
			return svcerrors.E(svcerrors.KindEmptySecret, account.Identifier, nil)
		}
		return secret.With(func(plaintext []byte) error {
			if err := s.dir.SetPassword(ctx, account, plaintext); err != nil {
				// Directory refused; platform untouched.
				return err
			}
			if err := s.postCredential(ctx, account, credentialRequest{Mode: mode, Secret: string(plaintext)}); err != nil {
				// Directory changed but platform did not follow.
				return svcerrors.E(svcerrors.KindPartialApply, account.Identifier, err)
			}
			return nil
		})

	default:
		return fmt.Errorf("unknown rotation mode %q", mode)
	}
}

// Verify re-reads the platform's credential state for the account.
func (s *HTTPStore) Verify(ctx context.Context, account directory.ManagedAccount, mode Mode) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.accountURL(account), nil)
	if err != nil {
		return svcerrors.E(svcerrors.KindVerificationFailed, account.Identifier, err)
	}
	s.decorate(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return svcerrors.E(svcerrors.KindVerificationFailed, account.Identifier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return svcerrors.E(svcerrors.KindVerificationFailed, account.Identifier,
			fmt.Errorf("credential read-back returned %d", resp.StatusCode))
	}

	var state credentialState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return svcerrors.E(svcerrors.KindVerificationFailed, account.Identifier,
			fmt.Errorf("decoding credential state: %w", err))
	}
	if state.Mode != mode {
		return svcerrors.E(svcerrors.KindVerificationFailed, account.Identifier,
			fmt.Errorf("platform reports mode %q, expected %q", state.Mode, mode))
	}

	s.logger.Debug("Verified platform credential state for %s", account.Identifier)
	return nil
}

func (s *HTTPStore) postCredential(ctx context.Context, account directory.ManagedAccount, body credentialRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding credential request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.accountURL(account), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	s.decorate(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body may echo the submitted secret; the detail ends up in
		// outcome records and log lines.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode,
			logging.Redact(string(detail), []string{body.Secret}))
	}
	return nil
}

func (s *HTTPStore) accountURL(account directory.ManagedAccount) string {
	return fmt.Sprintf("%s/accounts/%s/credential", s.baseURL, url.PathEscape(account.Identifier))
}

func (s *HTTPStore) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
