// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aether-foundation/aether/lib/clock"
	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/config"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

// Handle is the durable record of one sandbox. It is written to disk
// before the job launches, so a crashed supervisor can always find
// and reclaim what it started.
type Handle struct {
	JobID   ref.JobID `json:"job_id"`
	Profile string    `json:"profile"`

	// Scratch is the job's private writable directory.
	Scratch string `json:"scratch"`

	// PID is the launched process, zero until Started is called.
	// The process leads its own group, so -PID addresses the whole
	// tree.
	PID int `json:"pid,omitempty"`

	// Isolated records whether the job actually ran inside bwrap.
	// False when a fallback policy allowed an unisolated launch.
	Isolated bool `json:"isolated"`

	// ScopeName is the systemd scope unit, empty when no ceilings
	// were enforced.
	ScopeName string `json:"scope_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Config config.SandboxConfig

	// RunDir holds the durable handle files.
	RunDir string

	// JobsDir holds per-job directories; scratch lives underneath.
	JobsDir string

	Clock  clock.Clock
	Logger *slog.Logger

	// Capabilities overrides host detection when non-nil.
	Capabilities *Capabilities
}

// Manager owns sandbox lifecycles: prepare, launch, teardown, and
// startup reclamation of whatever a previous process left behind.
type Manager struct {
	cfg     config.SandboxConfig
	runDir  string
	jobsDir string
	catalog *Catalog
	caps    *Capabilities
	clock   clock.Clock
	logger  *slog.Logger
}

// NewManager creates a Manager, probing host capabilities and loading
// the profile catalog.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.RunDir == "" || opts.JobsDir == "" {
		return nil, fmt.Errorf("run and jobs directories are required")
	}

	catalog, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	if opts.Config.ProfilesFile != "" {
		if err := catalog.LoadFile(opts.Config.ProfilesFile); err != nil {
			return nil, fmt.Errorf("loading sandbox profiles: %w", err)
		}
	}

	caps := opts.Capabilities
	if caps == nil {
		caps = DetectCapabilities()
	}

	cl := opts.Clock
	if cl == nil {
		cl = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{opts.RunDir, opts.JobsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	return &Manager{
		cfg:     opts.Config,
		runDir:  opts.RunDir,
		jobsDir: opts.JobsDir,
		catalog: catalog,
		caps:    caps,
		clock:   cl,
		logger:  logger,
	}, nil
}

// Capabilities returns the probed host capabilities.
func (m *Manager) Capabilities() *Capabilities { return m.caps }

// Profiles returns the available profile names.
func (m *Manager) Profiles() []string { return m.catalog.List() }

// Prepare creates the job's scratch directory and durably writes the
// handle file. The handle is on disk before anything launches, so a
// crash between Prepare and Launch still leaves a reclaimable record.
func (m *Manager) Prepare(jobID ref.JobID, profileName string) (*Handle, error) {
	if profileName == "" {
		profileName = m.cfg.DefaultProfile
	}
	if _, err := m.catalog.Resolve(profileName); err != nil {
		return nil, schema.NewError(schema.ErrSandboxSetup, "%v", err)
	}

	scratch := filepath.Join(m.jobsDir, jobID.String(), "scratch")
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, schema.NewError(schema.ErrSandboxSetup, "creating scratch directory: %v", err)
	}

	handle := &Handle{
		JobID:     jobID,
		Profile:   profileName,
		Scratch:   scratch,
		CreatedAt: m.clock.Now(),
	}
	if err := m.writeHandle(handle); err != nil {
		return nil, schema.NewError(schema.ErrSandboxSetup, "writing sandbox handle: %v", err)
	}
	return handle, nil
}

// Launch builds the isolated command for a prepared sandbox. The
// caller starts it and must call Started with the resulting PID.
//
// The command runs in its own process group so the whole tree can be
// signaled, and the direct child dies with the supervisor.
func (m *Manager) Launch(ctx context.Context, handle *Handle, command []string, limits schema.ResourceProfile, extraEnv map[string]string) (*exec.Cmd, error) {
	if len(command) == 0 {
		return nil, schema.NewError(schema.ErrSandboxSetup, "empty command")
	}

	isolate, err := m.resolveIsolation(handle.JobID)
	if err != nil {
		return nil, err
	}

	var argv []string
	if isolate {
		profile, err := m.catalog.Resolve(handle.Profile)
		if err != nil {
			return nil, schema.NewError(schema.ErrSandboxSetup, "%v", err)
		}

		vars := Variables{
			"SCRATCH": handle.Scratch,
			"HOME":    os.Getenv("HOME"),
			"TERM":    os.Getenv("TERM"),
		}
		expanded := vars.ExpandProfile(profile)

		builder := NewBwrapBuilder()
		bwrapArgs, err := builder.Build(&BwrapOptions{
			Profile:  expanded,
			Scratch:  handle.Scratch,
			Network:  limits.NetworkPolicy(),
			ExtraEnv: extraEnv,
			Command:  command,
		})
		if err != nil {
			return nil, schema.NewError(schema.ErrSandboxSetup, "building bwrap command: %v", err)
		}
		argv = append([]string{m.caps.BwrapPath}, bwrapArgs...)
	} else {
		argv = command
	}
	handle.Isolated = isolate

	if limits.HasLimits() {
		scopeName := "aether-" + handle.JobID.String()
		if m.caps.SystemdUserScopesWork {
			scope := NewSystemdScope(scopeName, limits)
			argv = scope.WrapCommand(argv)
			handle.ScopeName = scopeName
		} else {
			switch m.cfg.Fallback.NoSystemd {
			case "error":
				return nil, schema.NewError(schema.ErrSandboxSetup,
					"resource limits requested but systemd user scopes are unavailable")
			case "warn":
				m.logger.Warn("systemd-run unavailable, resource limits not enforced",
					"job_id", handle.JobID)
			}
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = handle.Scratch

	// Keep the supervisor's environment out of /proc/<pid>/environ.
	// Everything the job needs passes through bwrap --setenv.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + handle.Scratch,
	}
	if !isolate {
		for key, value := range extraEnv {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}

	return cmd, nil
}

// resolveIsolation decides whether to isolate, per the fallback
// policy, when capabilities are missing.
func (m *Manager) resolveIsolation(jobID ref.JobID) (bool, error) {
	if !m.caps.BwrapAvailable {
		switch m.cfg.Fallback.NoBwrap {
		case "error":
			return false, schema.NewError(schema.ErrSandboxSetup, "bubblewrap not installed")
		case "warn":
			m.logger.Warn("bubblewrap not installed, launching without isolation",
				"job_id", jobID)
		}
		return false, nil
	}
	if !m.caps.UserNamespacesEnabled {
		switch m.cfg.Fallback.NoUserns {
		case "error":
			return false, schema.NewError(schema.ErrSandboxSetup,
				"unprivileged user namespaces not enabled")
		case "warn":
			m.logger.Warn("user namespaces unavailable, launching without isolation",
				"job_id", jobID)
		}
		return false, nil
	}
	return true, nil
}

// Started records the launched PID in the handle file. Must be called
// after the command starts so Reclaim can find the process group.
func (m *Manager) Started(handle *Handle, pid int) error {
	handle.PID = pid
	return m.writeHandle(handle)
}

// Teardown kills the sandbox's process group and removes its scratch
// directory and handle file. Idempotent: safe on never-launched,
// already-exited, and already-torn-down sandboxes.
func (m *Manager) Teardown(handle *Handle) error {
	if handle.PID > 0 {
		// ESRCH means the group is already gone.
		if err := unix.Kill(-handle.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			m.logger.Warn("killing sandbox process group",
				"job_id", handle.JobID, "pid", handle.PID, "error", err)
		}
	}

	var errs []error
	if handle.Scratch != "" {
		if err := os.RemoveAll(handle.Scratch); err != nil {
			errs = append(errs, fmt.Errorf("removing scratch: %w", err))
		}
	}
	if err := os.Remove(m.handlePath(handle.JobID)); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("removing handle: %w", err))
	}
	return errors.Join(errs...)
}

// Reclaim scans the run directory for handle files left by a previous
// process and tears every one down. Nothing is supervising those
// sandboxes anymore; live process groups are killed. Returns the
// number reclaimed.
func (m *Manager) Reclaim() (int, error) {
	entries, err := os.ReadDir(m.runDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	reclaimed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), handleSuffix) {
			continue
		}
		path := filepath.Join(m.runDir, entry.Name())

		handle, err := readHandle(path)
		if err != nil {
			// Unreadable handles are torn tails from a crash mid-write.
			m.logger.Warn("removing unreadable sandbox handle", "path", path, "error", err)
			os.Remove(path)
			continue
		}

		alive := handle.PID > 0 && processAlive(handle.PID)
		m.logger.Info("reclaiming orphaned sandbox",
			"job_id", handle.JobID, "pid", handle.PID, "alive", alive)
		if err := m.Teardown(handle); err != nil {
			m.logger.Warn("reclaiming sandbox", "job_id", handle.JobID, "error", err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

const handleSuffix = ".handle"

func (m *Manager) handlePath(jobID ref.JobID) string {
	return filepath.Join(m.runDir, jobID.String()+handleSuffix)
}

// writeHandle writes the handle durably: temp file, fsync, rename,
// fsync the directory.
func (m *Manager) writeHandle(handle *Handle) error {
	data, err := codec.Marshal(handle)
	if err != nil {
		return err
	}

	path := m.handlePath(handle.JobID)
	tmp, err := os.CreateTemp(m.runDir, ".handle-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	dir, err := os.Open(m.runDir)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

func readHandle(path string) (*Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var handle Handle
	if err := codec.Unmarshal(data, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// processAlive checks whether a process with the given PID exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
