package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
)

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition represents the svcrotate.yaml structure
type Definition struct {
	Version     int               `yaml:"version"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Platform    PlatformConfig    `yaml:"platform"`
	Policy      PolicyConfig      `yaml:"policy"`
	Propagation PropagationConfig `yaml:"propagation"`
}

// DirectoryConfig describes the identity store holding the managed accounts
type DirectoryConfig struct {
	URL       string `yaml:"url"`        // ldap:// or ldaps:// endpoint
	BaseDN    string `yaml:"base_dn"`    // search base for managed accounts
	Attribute string `yaml:"attribute"`  // identifier attribute, default sAMAccountName
	PageSize  uint32 `yaml:"page_size"`  // LDAP paging, default 500
	TimeoutMs int    `yaml:"timeout_ms"` // per-operation timeout (default: 30000)
}

// PlatformConfig describes the farm platform's credential API
type PlatformConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// PolicyConfig holds the secret-strength policy for set-new mode
type PolicyConfig struct {
	MinSecretLength int `yaml:"min_secret_length"`
}

// PropagationConfig describes how dependent services are restarted after a
// successful batch. Type "http" posts to URL; type "command" runs Command.
type PropagationConfig struct {
	Type    string   `yaml:"type"`
	URL     string   `yaml:"url,omitempty"`
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// DefaultMinSecretLength applies when the policy section is absent.
const DefaultMinSecretLength = 12

// Load reads and validates the yaml definition file.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return svcerrors.UserError{
			Message:    fmt.Sprintf("Cannot read config file '%s'", c.Path),
			Suggestion: "Create svcrotate.yaml or pass --config <path>",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return svcerrors.UserError{
			Message:    "Invalid config file",
			Suggestion: "Check for YAML indentation errors and missing quotes",
			Err:        err,
		}
	}

	applyDefaults(&def)
	if err := validate(&def); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func applyDefaults(def *Definition) {
	if def.Directory.Attribute == "" {
		def.Directory.Attribute = "sAMAccountName"
	}
	if def.Directory.PageSize == 0 {
		def.Directory.PageSize = 500
	}
	if def.Directory.TimeoutMs == 0 {
		def.Directory.TimeoutMs = 30000
	}
	if def.Platform.TimeoutMs == 0 {
		def.Platform.TimeoutMs = 30000
	}
	if def.Policy.MinSecretLength == 0 {
		def.Policy.MinSecretLength = DefaultMinSecretLength
	}
}

func validate(def *Definition) error {
	if def.Directory.URL == "" {
		return svcerrors.UserError{
			Message:    "directory.url is required",
			Suggestion: "Set directory.url to your ldap:// endpoint in svcrotate.yaml",
		}
	}
	if def.Directory.BaseDN == "" {
		return svcerrors.UserError{
			Message:    "directory.base_dn is required",
			Suggestion: "Set directory.base_dn to the container holding the managed accounts",
		}
	}
	if def.Platform.URL == "" {
		return svcerrors.UserError{
			Message:    "platform.url is required",
			Suggestion: "Set platform.url to the farm platform's credential API endpoint",
		}
	}
	switch def.Propagation.Type {
	case "", "http", "command":
	default:
		return svcerrors.UserError{
			Message:    fmt.Sprintf("Unknown propagation.type '%s'", def.Propagation.Type),
			Suggestion: "Valid values are: http, command",
		}
	}
	if def.Propagation.Type == "http" && def.Propagation.URL == "" {
		return svcerrors.UserError{
			Message:    "propagation.url is required when propagation.type is http",
			Suggestion: "Set propagation.url to the service restart endpoint",
		}
	}
	if def.Propagation.Type == "command" && def.Propagation.Command == "" {
		return svcerrors.UserError{
			Message:    "propagation.command is required when propagation.type is command",
			Suggestion: "Set propagation.command to the restart script",
		}
	}
	return nil
}

// DirectoryTimeout returns the directory operation timeout as a duration.
func (d DirectoryConfig) DirectoryTimeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// PlatformTimeout returns the platform client timeout as a duration.
func (p PlatformConfig) PlatformTimeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Credential environment variables. Endpoint credentials are never CLI
// arguments and never logged; they come from the environment (optionally a
// .env file) or the OS keyring.
const (
	EnvDirectoryBindDN   = "SVCROTATE_DIRECTORY_BIND_DN"
	EnvDirectoryPassword = "SVCROTATE_DIRECTORY_PASSWORD"
	EnvPlatformToken     = "SVCROTATE_PLATFORM_TOKEN"

	keyringService = "svcrotate"
)

// Credentials holds endpoint secrets resolved at startup.
type Credentials struct {
	DirectoryBindDN   string
	DirectoryPassword string
	PlatformToken     string
}

// LoadCredentials resolves endpoint credentials from the environment,
// loading a .env file first if present, and falling back to the OS keyring
// for values the environment does not provide.
func LoadCredentials(logger *logging.Logger) (*Credentials, error) {
	// Missing .env is fine; explicit env vars still apply.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded credentials from .env")
	}

	creds := &Credentials{
		DirectoryBindDN:   os.Getenv(EnvDirectoryBindDN),
		DirectoryPassword: os.Getenv(EnvDirectoryPassword),
		PlatformToken:     os.Getenv(EnvPlatformToken),
	}

	if creds.DirectoryPassword == "" {
		if v, err := keyring.Get(keyringService, "directory-password"); err == nil {
			creds.DirectoryPassword = v
			logger.Debug("Directory password resolved from OS keyring")
		}
	}
	if creds.PlatformToken == "" {
		if v, err := keyring.Get(keyringService, "platform-token"); err == nil {
			creds.PlatformToken = v
			logger.Debug("Platform token resolved from OS keyring")
		}
	}

	if creds.DirectoryBindDN == "" || creds.DirectoryPassword == "" {
		return nil, svcerrors.UserError{
			Message:    "Directory credentials are not configured",
			Suggestion: fmt.Sprintf("Set %s and %s in the environment or store the password in the OS keyring", EnvDirectoryBindDN, EnvDirectoryPassword),
			Details:    "Endpoint credentials are never accepted as CLI arguments",
		}
	}

	logger.Debug("Binding to directory as %s with password %s", creds.DirectoryBindDN, logging.Secret(creds.DirectoryPassword))
	return creds, nil
}
