// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Aether components.
//
// Configuration is loaded from a single YAML file specified by:
//   - AETHER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override file values; the only expansion performed is
// ${VAR} / ${VAR:-default} in paths, for portability.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when the environment
// matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the master configuration shared by aetherd, aurorad, and
// the CLI.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths        PathsConfig        `yaml:"paths"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections that can be overridden per
// environment. Empty fields keep the base value.
type Overrides struct {
	Paths        *PathsConfig        `yaml:"paths,omitempty"`
	Daemon       *DaemonConfig       `yaml:"daemon,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Sandbox      *SandboxConfig      `yaml:"sandbox,omitempty"`
}

// PathsConfig configures the on-disk layout. Everything lives under
// Root unless overridden per directory.
type PathsConfig struct {
	// Root is the base directory for Aether state.
	Root string `yaml:"root"`

	// Jobs holds per-job state files and captured logs.
	Jobs string `yaml:"jobs"`

	// Artifacts holds the content-addressed blob store and its index.
	Artifacts string `yaml:"artifacts"`

	// Memory holds the memory store database.
	Memory string `yaml:"memory"`

	// Audit holds the append-only audit log.
	Audit string `yaml:"audit"`

	// Run holds sandbox handles and other reclaimable runtime state.
	Run string `yaml:"run"`
}

// DaemonConfig configures aetherd.
type DaemonConfig struct {
	// SocketPath is the unix socket aetherd serves on.
	SocketPath string `yaml:"socket_path"`

	// PolicyFile is the JSONC rule file. Required: with no file the
	// engine has no rules and every action is denied.
	PolicyFile string `yaml:"policy_file"`

	// Retention bounds the artifact store.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig configures the artifact retention sweep. Durations
// use Go syntax ("24h", "30m"). Zero values disable that bound.
type RetentionConfig struct {
	// Interval is how often the sweep runs.
	Interval string `yaml:"interval"`

	// MaxAge evicts unreferenced artifacts older than this.
	MaxAge string `yaml:"max_age"`

	// MaxTotalBytes caps the summed on-disk blob size.
	MaxTotalBytes int64 `yaml:"max_total_bytes"`
}

// OrchestratorConfig configures aurorad.
type OrchestratorConfig struct {
	// SocketPath is the unix socket aurorad serves on.
	SocketPath string `yaml:"socket_path"`

	// SubstrateSocket is where aurorad reaches aetherd.
	SubstrateSocket string `yaml:"substrate_socket"`

	// RuntimeSocket is the runtime service (cfcd) unix socket used
	// for prediction, encoding, and scoring jobs.
	RuntimeSocket string `yaml:"runtime_socket"`

	// RuntimeHost is the host:port fallback when the runtime socket
	// is unavailable (unix sockets unsupported in the environment).
	RuntimeHost string `yaml:"runtime_host"`

	// Actor is the principal aurorad submits jobs as.
	Actor string `yaml:"actor"`
}

// SandboxConfig configures job isolation.
type SandboxConfig struct {
	// DefaultProfile is the sandbox profile used when the job spec
	// names none.
	DefaultProfile string `yaml:"default_profile"`

	// ProfilesFile is the YAML profile catalog. Empty means the
	// embedded defaults.
	ProfilesFile string `yaml:"profiles_file"`

	// Fallback configures behavior when isolation capabilities are
	// missing on the host.
	Fallback FallbackConfig `yaml:"fallback"`
}

// FallbackConfig values are "skip" (continue without), "warn" (log
// and continue), or "error" (refuse to launch).
type FallbackConfig struct {
	// NoUserns: user namespaces unavailable.
	NoUserns string `yaml:"no_userns"`

	// NoBwrap: bubblewrap binary missing.
	NoBwrap string `yaml:"no_bwrap"`

	// NoSystemd: systemd-run unavailable, so no resource ceilings.
	NoSystemd string `yaml:"no_systemd"`
}

// Default returns the base configuration. It exists so every field
// has a sensible value before the file loads, not as a substitute for
// the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "aether")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			Jobs:      "${AETHER_ROOT}/jobs",
			Artifacts: "${AETHER_ROOT}/artifacts",
			Memory:    "${AETHER_ROOT}/memory",
			Audit:     "${AETHER_ROOT}/audit",
			Run:       "${AETHER_ROOT}/run",
		},
		Daemon: DaemonConfig{
			SocketPath: "/tmp/aetherd.sock",
			PolicyFile: "${AETHER_ROOT}/policy.jsonc",
			Retention: RetentionConfig{
				Interval:      "1h",
				MaxAge:        "168h",
				MaxTotalBytes: 8 << 30,
			},
		},
		Orchestrator: OrchestratorConfig{
			SocketPath:      "/tmp/aurorad.sock",
			SubstrateSocket: "/tmp/aetherd.sock",
			RuntimeSocket:   "/tmp/cfcd.sock",
			RuntimeHost:     "127.0.0.1:8090",
			Actor:           "aurorad",
		},
		Sandbox: SandboxConfig{
			DefaultProfile: "standard",
			Fallback: FallbackConfig{
				NoUserns:  "skip",
				NoBwrap:   "error",
				NoSystemd: "warn",
			},
		},
	}
}

// Load loads configuration from the AETHER_CONFIG environment
// variable. There is no fallback: an unset variable is an error.
func Load() (*Config, error) {
	path := os.Getenv("AETHER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("AETHER_CONFIG environment variable not set; " +
			"set it to the path of your aether.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production default: missing isolation is never ignored.
		if overrides == nil {
			overrides = &Overrides{
				Sandbox: &SandboxConfig{
					Fallback: FallbackConfig{NoUserns: "error", NoSystemd: "error"},
				},
			}
		}
	}
	if overrides == nil {
		return
	}

	if o := overrides.Paths; o != nil {
		mergeString(&c.Paths.Root, o.Root)
		mergeString(&c.Paths.Jobs, o.Jobs)
		mergeString(&c.Paths.Artifacts, o.Artifacts)
		mergeString(&c.Paths.Memory, o.Memory)
		mergeString(&c.Paths.Audit, o.Audit)
		mergeString(&c.Paths.Run, o.Run)
	}
	if o := overrides.Daemon; o != nil {
		mergeString(&c.Daemon.SocketPath, o.SocketPath)
		mergeString(&c.Daemon.PolicyFile, o.PolicyFile)
		mergeString(&c.Daemon.Retention.Interval, o.Retention.Interval)
		mergeString(&c.Daemon.Retention.MaxAge, o.Retention.MaxAge)
		if o.Retention.MaxTotalBytes != 0 {
			c.Daemon.Retention.MaxTotalBytes = o.Retention.MaxTotalBytes
		}
	}
	if o := overrides.Orchestrator; o != nil {
		mergeString(&c.Orchestrator.SocketPath, o.SocketPath)
		mergeString(&c.Orchestrator.SubstrateSocket, o.SubstrateSocket)
		mergeString(&c.Orchestrator.RuntimeSocket, o.RuntimeSocket)
		mergeString(&c.Orchestrator.RuntimeHost, o.RuntimeHost)
		mergeString(&c.Orchestrator.Actor, o.Actor)
	}
	if o := overrides.Sandbox; o != nil {
		mergeString(&c.Sandbox.DefaultProfile, o.DefaultProfile)
		mergeString(&c.Sandbox.ProfilesFile, o.ProfilesFile)
		mergeString(&c.Sandbox.Fallback.NoUserns, o.Fallback.NoUserns)
		mergeString(&c.Sandbox.Fallback.NoBwrap, o.Fallback.NoBwrap)
		mergeString(&c.Sandbox.Fallback.NoSystemd, o.Fallback.NoSystemd)
	}
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"AETHER_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["AETHER_ROOT"] = c.Paths.Root

	c.Paths.Jobs = expandVars(c.Paths.Jobs, vars)
	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Paths.Memory = expandVars(c.Paths.Memory, vars)
	c.Paths.Audit = expandVars(c.Paths.Audit, vars)
	c.Paths.Run = expandVars(c.Paths.Run, vars)
	c.Daemon.SocketPath = expandVars(c.Daemon.SocketPath, vars)
	c.Daemon.PolicyFile = expandVars(c.Daemon.PolicyFile, vars)
	c.Orchestrator.SocketPath = expandVars(c.Orchestrator.SocketPath, vars)
	c.Orchestrator.SubstrateSocket = expandVars(c.Orchestrator.SubstrateSocket, vars)
	c.Orchestrator.RuntimeSocket = expandVars(c.Orchestrator.RuntimeSocket, vars)
	c.Sandbox.ProfilesFile = expandVars(c.Sandbox.ProfilesFile, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Daemon.SocketPath == "" {
		errs = append(errs, fmt.Errorf("daemon.socket_path is required"))
	}
	if c.Daemon.PolicyFile == "" {
		errs = append(errs, fmt.Errorf("daemon.policy_file is required"))
	}
	if c.Sandbox.DefaultProfile == "" {
		errs = append(errs, fmt.Errorf("sandbox.default_profile is required"))
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"daemon.retention.interval", c.Daemon.Retention.Interval},
		{"daemon.retention.max_age", c.Daemon.Retention.MaxAge},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	fallbackValues := []string{"skip", "warn", "error"}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"sandbox.fallback.no_userns", c.Sandbox.Fallback.NoUserns},
		{"sandbox.fallback.no_bwrap", c.Sandbox.Fallback.NoBwrap},
		{"sandbox.fallback.no_systemd", c.Sandbox.Fallback.NoSystemd},
	} {
		if !contains(fallbackValues, field.value) {
			errs = append(errs, fmt.Errorf("%s must be one of: %v", field.name, fallbackValues))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RetentionInterval parses the sweep interval. Zero when unset.
func (c *Config) RetentionInterval() time.Duration {
	return parseDurationOrZero(c.Daemon.Retention.Interval)
}

// RetentionMaxAge parses the retention age bound. Zero when unset.
func (c *Config) RetentionMaxAge() time.Duration {
	return parseDurationOrZero(c.Daemon.Retention.MaxAge)
}

func parseDurationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
