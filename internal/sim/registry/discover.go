package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"broadside.gg/internal/protocol"
)

// Manifest is the on-disk description of a controller.
type Manifest struct {
	Capabilities `yaml:",inline"`
	Builtin      string    `yaml:"builtin,omitempty"`
	Exec         *ExecSpec `yaml:"exec,omitempty"`
}

// ParseManifest decodes and validates one manifest. JSON is valid YAML, so both
// formats go through the same decoder.
func ParseManifest(raw []byte) (Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, err
	}
	if err := protocol.ValidateValue(protocol.SchemaManifest, doc); err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, err
	}
	v, err := canonicalVersion(m.Version)
	if err != nil {
		return Manifest{}, err
	}
	m.Version = v
	return m, nil
}

// Discover scans dir for manifests and registers every one that parses. Bad
// manifests are logged and skipped; only an unreadable directory is an error.
func (r *Registry) Discover(dir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var found []Descriptor
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("manifest unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		m, err := ParseManifest(raw)
		if err != nil {
			r.logger.Warn("manifest skipped", zap.String("path", path), zap.Error(err))
			continue
		}
		d := Descriptor{Capabilities: m.Capabilities, Builtin: m.Builtin, Exec: m.Exec, Source: path, Dir: dir}
		if d.Exec != nil && strings.ContainsRune(d.Exec.Command, filepath.Separator) && !filepath.IsAbs(d.Exec.Command) {
			d.Exec.Command = filepath.Join(dir, d.Exec.Command)
		}
		if d.Exec == nil {
			key, ok := r.factoryRef(d.Builtin)
			if !ok {
				r.logger.Warn("manifest skipped", zap.String("path", path), zap.String("builtin", d.Builtin), zap.Error(ErrNoFactory))
				continue
			}
			d.Builtin = key
		}
		r.add(d)
		found = append(found, d)
	}
	r.logger.Info("discovery finished", zap.String("dir", dir), zap.Int("found", len(found)), zap.Int("candidates", len(names)))
	return found, nil
}
