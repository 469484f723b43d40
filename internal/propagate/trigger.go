// Package propagate signals dependent services to pick up rotated
// credentials. The trigger fires at most once per run, strictly after all
// accounts have reached a terminal state, and its failure never
// invalidates recorded rotation outcomes.
package propagate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/systmms/svcrotate/internal/config"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
)

// Trigger restarts or signals the dependent services.
type Trigger interface {
	Trigger(ctx context.Context) error
}

// HTTPTrigger posts a restart request to the platform's service endpoint.
type HTTPTrigger struct {
	url    string
	token  string
	client *http.Client
	logger *logging.Logger
}

// NewHTTPTrigger builds an HTTP propagation trigger.
func NewHTTPTrigger(cfg config.PropagationConfig, token string, logger *logging.Logger) *HTTPTrigger {
	return &HTTPTrigger{
		url:    cfg.URL,
		token:  token,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

type restartRequest struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Trigger issues the restart call.
func (t *HTTPTrigger) Trigger(ctx context.Context) error {
	payload, err := json.Marshal(restartRequest{
		Reason:    "credential rotation",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return svcerrors.E(svcerrors.KindPropagationFailed, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return svcerrors.E(svcerrors.KindPropagationFailed, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return svcerrors.E(svcerrors.KindPropagationFailed, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return svcerrors.E(svcerrors.KindPropagationFailed, "",
			fmt.Errorf("restart endpoint returned %d: %s", resp.StatusCode, string(detail)))
	}

	t.logger.Info("Propagation triggered via %s", t.url)
	return nil
}

// CommandTrigger runs a local restart command, for platforms managed
// through an operator script rather than an API.
type CommandTrigger struct {
	command string
	args    []string
	logger  *logging.Logger
}

// NewCommandTrigger builds a command propagation trigger.
func NewCommandTrigger(cfg config.PropagationConfig, logger *logging.Logger) *CommandTrigger {
	return &CommandTrigger{command: cfg.Command, args: cfg.Args, logger: logger}
}

// Trigger runs the configured command.
func (t *CommandTrigger) Trigger(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.command, t.args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return svcerrors.E(svcerrors.KindPropagationFailed, "",
			fmt.Errorf("%s: %w: %s", t.command, err, string(output)))
	}

	t.logger.Info("Propagation command %s completed", t.command)
	return nil
}

// FromConfig builds the configured trigger, or nil when propagation is not
// configured (the orchestrator then records a warning instead of firing).
func FromConfig(cfg config.PropagationConfig, token string, logger *logging.Logger) Trigger {
	switch cfg.Type {
	case "http":
		return NewHTTPTrigger(cfg, token, logger)
	case "command":
		return NewCommandTrigger(cfg, logger)
	default:
		return nil
	}
}
