// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog holds the loadable profile definitions and resolves them by
// name, applying inheritance. Later-loaded definitions shadow earlier
// ones, so a profiles file can override the built-in defaults.
type Catalog struct {
	configs  []*profilesFile
	resolved map[string]*Profile
}

type profilesFile struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// NewCatalog creates a catalog preloaded with the built-in defaults.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{resolved: make(map[string]*Profile)}
	config, err := parseProfiles([]byte(defaultProfilesYAML))
	if err != nil {
		return nil, fmt.Errorf("parsing built-in profiles: %w", err)
	}
	c.configs = append(c.configs, config)
	return c, nil
}

// LoadFile loads additional profiles from a YAML file. Definitions
// with names already in the catalog shadow the earlier ones.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	config, err := parseProfiles(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	c.configs = append(c.configs, config)
	c.resolved = make(map[string]*Profile)
	return nil
}

func parseProfiles(data []byte) (*profilesFile, error) {
	var config profilesFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	for name, profile := range config.Profiles {
		profile.Name = name
		if err := profile.Validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// Resolve resolves a profile by name, applying inheritance.
func (c *Catalog) Resolve(name string) (*Profile, error) {
	if profile, ok := c.resolved[name]; ok {
		return profile, nil
	}

	// Last definition wins.
	var base *Profile
	for _, config := range c.configs {
		if profile, ok := config.Profiles[name]; ok {
			base = profile
		}
	}
	if base == nil {
		return nil, fmt.Errorf("sandbox profile not found: %s", name)
	}

	var profile *Profile
	if base.Inherit != "" {
		parent, err := c.Resolve(base.Inherit)
		if err != nil {
			return nil, fmt.Errorf("resolving parent profile %q: %w", base.Inherit, err)
		}
		profile = mergeProfiles(parent, base)
	} else {
		profile = base.Clone()
	}

	c.resolved[name] = profile
	return profile, nil
}

// List returns all available profile names, sorted.
func (c *Catalog) List() []string {
	names := make(map[string]bool)
	for _, config := range c.configs {
		for name := range config.Profiles {
			names[name] = true
		}
	}
	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// defaultProfilesYAML contains the built-in profile definitions.
// ${SCRATCH} expands to the job's private scratch directory.
const defaultProfilesYAML = `
profiles:
  minimal:
    description: "Scratch directory and nothing else"

    filesystem:
      - source: ${SCRATCH}
        dest: /scratch
        mode: rw
      - type: tmpfs
        dest: /tmp
      - source: /usr
        dest: /usr
        mode: ro
      - source: /bin
        dest: /bin
        mode: ro
      - source: /lib
        dest: /lib
        mode: ro
      - source: /lib64
        dest: /lib64
        mode: ro
        optional: true
      - source: /etc/passwd
        dest: /etc/passwd
        mode: ro
      - source: /etc/group
        dest: /etc/group
        mode: ro

    namespaces:
      pid: true
      ipc: true
      uts: true
      cgroup: false

    environment:
      PATH: "/usr/local/bin:/usr/bin:/bin"
      HOME: "/scratch"

    security:
      new_session: true
      die_with_parent: true

    create_dirs:
      - /tmp
      - /var/tmp

  standard:
    description: "Minimal plus TLS roots and resolver config"
    inherit: minimal

    filesystem:
      - source: /etc/resolv.conf
        dest: /etc/resolv.conf
        mode: ro
        optional: true
      - source: /etc/ssl
        dest: /etc/ssl
        mode: ro
        optional: true
      - source: /etc/ca-certificates
        dest: /etc/ca-certificates
        mode: ro
        optional: true
      - source: /etc/alternatives
        dest: /etc/alternatives
        mode: ro
        optional: true

  readonly:
    description: "Standard with a read-only scratch view"
    inherit: standard

    filesystem:
      - source: ${SCRATCH}
        dest: /scratch
        mode: ro
`
