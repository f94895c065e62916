// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Profile defines the filesystem and namespace shape of a sandbox.
// Resource ceilings are not part of the profile; they come from the
// job's resource declaration.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Inherit     string            `yaml:"inherit,omitempty"`
	Filesystem  []Mount           `yaml:"filesystem,omitempty"`
	Namespaces  NamespaceConfig   `yaml:"namespaces,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Security    SecurityConfig    `yaml:"security,omitempty"`
	CreateDirs  []string          `yaml:"create_dirs,omitempty"`
}

// Mount defines a filesystem mount in the sandbox.
type Mount struct {
	Source   string `yaml:"source,omitempty"`
	Dest     string `yaml:"dest"`
	Mode     string `yaml:"mode,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
	Glob     bool   `yaml:"glob,omitempty"`
}

// MountType constants for the Type field.
const (
	MountTypeBind    = ""         // Default: bind mount
	MountTypeTmpfs   = "tmpfs"    // tmpfs mount
	MountTypeProc    = "proc"     // /proc
	MountTypeDev     = "dev"      // /dev (minimal)
	MountTypeDevBind = "dev-bind" // Device node bind
)

// MountMode constants for the Mode field.
const (
	MountModeRO = "ro"
	MountModeRW = "rw"
)

// NamespaceConfig defines which namespaces to unshare. The network
// namespace is absent on purpose: network isolation follows the job's
// network policy, not the profile.
type NamespaceConfig struct {
	PID    bool `yaml:"pid"`
	IPC    bool `yaml:"ipc"`
	UTS    bool `yaml:"uts"`
	Cgroup bool `yaml:"cgroup"`
	User   bool `yaml:"user"`
}

// SecurityConfig defines security settings for the sandbox.
type SecurityConfig struct {
	NewSession    bool `yaml:"new_session"`
	DieWithParent bool `yaml:"die_with_parent"`
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := &Profile{
		Name:        p.Name,
		Description: p.Description,
		Inherit:     p.Inherit,
		Namespaces:  p.Namespaces,
		Security:    p.Security,
	}

	if p.Filesystem != nil {
		clone.Filesystem = make([]Mount, len(p.Filesystem))
		copy(clone.Filesystem, p.Filesystem)
	}
	if p.CreateDirs != nil {
		clone.CreateDirs = make([]string, len(p.CreateDirs))
		copy(clone.CreateDirs, p.CreateDirs)
	}
	if p.Environment != nil {
		clone.Environment = make(map[string]string)
		for k, v := range p.Environment {
			clone.Environment[k] = v
		}
	}

	return clone
}

// mergeProfiles merges child profile settings into parent. Child
// settings override parent settings.
func mergeProfiles(parent, child *Profile) *Profile {
	result := parent.Clone()
	result.Name = child.Name
	result.Inherit = ""

	if child.Description != "" {
		result.Description = child.Description
	}

	// Filesystem: child replaces matching dest paths, adds new ones.
	// Parent mounts keep their relative order; new mounts append.
	if len(child.Filesystem) > 0 {
		override := make(map[string]Mount)
		for _, m := range child.Filesystem {
			override[m.Dest] = m
		}
		merged := make([]Mount, 0, len(result.Filesystem)+len(child.Filesystem))
		seen := make(map[string]bool)
		for _, m := range result.Filesystem {
			if o, ok := override[m.Dest]; ok {
				merged = append(merged, o)
			} else {
				merged = append(merged, m)
			}
			seen[m.Dest] = true
		}
		for _, m := range child.Filesystem {
			if !seen[m.Dest] {
				merged = append(merged, m)
			}
		}
		result.Filesystem = merged
	}

	// Namespaces: child overrides if any are set.
	if child.Namespaces != (NamespaceConfig{}) {
		result.Namespaces = child.Namespaces
	}

	// Environment: merge maps.
	if len(child.Environment) > 0 {
		if result.Environment == nil {
			result.Environment = make(map[string]string)
		}
		for k, v := range child.Environment {
			result.Environment[k] = v
		}
	}

	// Security: child overrides if any are set.
	if child.Security != (SecurityConfig{}) {
		result.Security = child.Security
	}

	// CreateDirs: merge and deduplicate, parent order first.
	if len(child.CreateDirs) > 0 {
		seen := make(map[string]bool)
		merged := make([]string, 0, len(result.CreateDirs)+len(child.CreateDirs))
		for _, d := range result.CreateDirs {
			if !seen[d] {
				merged = append(merged, d)
				seen[d] = true
			}
		}
		for _, d := range child.CreateDirs {
			if !seen[d] {
				merged = append(merged, d)
				seen[d] = true
			}
		}
		result.CreateDirs = merged
	}

	return result
}

// Variables holds the variable values for ${VAR} expansion in
// profiles. Unknown variables fall back to the process environment.
type Variables map[string]string

var profileVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand expands ${VAR} references in a string.
func (v Variables) Expand(s string) string {
	return profileVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := v[name]; ok {
			return val
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

// ExpandProfile expands all variables in a profile.
func (v Variables) ExpandProfile(p *Profile) *Profile {
	result := p.Clone()

	for i := range result.Filesystem {
		result.Filesystem[i].Source = v.Expand(result.Filesystem[i].Source)
		result.Filesystem[i].Dest = v.Expand(result.Filesystem[i].Dest)
	}
	for key, val := range result.Environment {
		result.Environment[key] = v.Expand(val)
	}
	for i := range result.CreateDirs {
		result.CreateDirs[i] = v.Expand(result.CreateDirs[i])
	}

	return result
}

// Validate checks that a profile is well-formed.
func (p *Profile) Validate() error {
	var errs []string

	for i, m := range p.Filesystem {
		if m.Dest == "" {
			errs = append(errs, fmt.Sprintf("filesystem[%d]: dest is required", i))
		}
		switch m.Type {
		case MountTypeBind, MountTypeDevBind:
			if m.Source == "" {
				errs = append(errs, fmt.Sprintf("filesystem[%d]: source is required for bind mounts", i))
			}
		case MountTypeTmpfs, MountTypeProc, MountTypeDev:
		default:
			errs = append(errs, fmt.Sprintf("filesystem[%d]: unknown mount type %q", i, m.Type))
		}
		if m.Mode != "" && m.Mode != MountModeRO && m.Mode != MountModeRW {
			errs = append(errs, fmt.Sprintf("filesystem[%d]: invalid mode %q (must be ro or rw)", i, m.Mode))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("profile %q validation failed:\n  %s", p.Name, strings.Join(errs, "\n  "))
	}
	return nil
}
