// Package patch fetches, verifies and applies kernel source patches,
// keeping an ordered provenance trail so batches can be unwound.
package patch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest lists the trusted patch sources and the patches they publish.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// Source is one trusted upstream, e.g. xanmod.
type Source struct {
	Name    string  `yaml:"name"`
	Patches []Entry `yaml:"patches"`
}

// Entry describes one patch to fetch and apply.
type Entry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// SHA256 is the expected content digest; empty skips verification.
	SHA256 string `yaml:"sha256,omitempty"`
	// KernelRange constrains the kernel versions the patch targets,
	// e.g. ">=6.1.0 <6.6.0". Empty applies to all versions.
	KernelRange string `yaml:"kernel_range,omitempty"`

	// Source is filled from the enclosing source when the manifest is
	// flattened; ad-hoc entries set it themselves.
	Source string `yaml:"-"`
}

// LoadManifest reads and parses a patch manifest. A missing file yields
// an empty manifest rather than an error.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read patch manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse patch manifest %s: %w", path, err)
	}
	return &m, nil
}

// Entries flattens the manifest into a single ordered list with the
// source name stamped on each entry.
func (m *Manifest) Entries() []Entry {
	var out []Entry
	for _, s := range m.Sources {
		for _, e := range s.Patches {
			e.Source = s.Name
			out = append(out, e)
		}
	}
	return out
}

// FindSource returns the entries published by the named source.
func (m *Manifest) FindSource(name string) []Entry {
	for _, s := range m.Sources {
		if s.Name == name {
			entries := make([]Entry, 0, len(s.Patches))
			for _, e := range s.Patches {
				e.Source = s.Name
				entries = append(entries, e)
			}
			return entries
		}
	}
	return nil
}
