package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/controller"
	"broadside.gg/internal/transport/stdio"
)

var (
	ErrNotFound   = errors.New("controller not found")
	ErrNoFactory  = errors.New("no builtin factory")
	ErrBadVersion = errors.New("invalid semantic version")
)

// Capabilities is what a controller declares about itself.
type Capabilities struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Modes       []string `json:"modes,omitempty" yaml:"modes,omitempty"`
}

type Key struct {
	Name    string
	Version string
}

func (k Key) String() string { return k.Name + "@" + k.Version }

type ExecSpec struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Descriptor is a registered controller that can be instantiated.
type Descriptor struct {
	Capabilities
	// Builtin names the in-process factory; Exec launches a child process instead.
	Builtin string
	Exec    *ExecSpec
	// Source is the manifest path, or "builtin".
	Source string
	Dir    string
}

func (d Descriptor) Key() Key { return Key{Name: d.Name, Version: d.Version} }

func (d Descriptor) Supports(mode string) bool {
	if len(d.Modes) == 0 || mode == "" {
		return true
	}
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Factory builds a fresh in-process controller. seed is derived from the match seed.
type Factory func(seed int64) (controller.Controller, error)

// Handle is one live controller instance taking part in a match.
type Handle struct {
	ID         uuid.UUID
	Descriptor Descriptor
	Controller controller.Controller
}

// Close releases process-backed controllers.
func (h Handle) Close() error {
	if c, ok := h.Controller.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

type Registry struct {
	mu sync.RWMutex
	// factories is keyed by "name@version" of the registering controller.
	factories map[string]Factory
	entries   map[Key]Descriptor
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: map[string]Factory{},
		entries:   map[Key]Descriptor{},
		logger:    logger.Named("registry"),
	}
}

// canonicalVersion accepts "1.2.3" or "v1.2.3" and returns the "v" form.
func canonicalVersion(v string) (string, error) {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("%q: %w", v, ErrBadVersion)
	}
	return v, nil
}

// Register adds an in-process controller. A later registration under the same
// name and version replaces the earlier one.
func (r *Registry) Register(caps Capabilities, f Factory) error {
	if f == nil {
		return fmt.Errorf("register %s: nil factory", caps.Name)
	}
	doc := map[string]any{"name": caps.Name, "version": caps.Version, "builtin": caps.Name}
	if len(caps.Modes) > 0 {
		doc["modes"] = caps.Modes
	}
	if err := protocol.ValidateValue(protocol.SchemaManifest, doc); err != nil {
		return fmt.Errorf("register %s: %w", caps.Name, err)
	}
	v, err := canonicalVersion(caps.Version)
	if err != nil {
		return fmt.Errorf("register %s: %w", caps.Name, err)
	}
	caps.Version = v
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key{caps.Name, v}
	r.factories[key.String()] = f
	r.entries[key] = Descriptor{Capabilities: caps, Builtin: key.String(), Source: "builtin"}
	return nil
}

// factoryRef resolves a manifest's builtin reference, "name" or "name@version",
// to a registered factory key. A bare name picks the highest registered version.
func (r *Registry) factoryRef(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, version, pinned := strings.Cut(ref, "@"); pinned {
		v, err := canonicalVersion(version)
		if err != nil {
			return "", false
		}
		key := Key{name, v}.String()
		_, ok := r.factories[key]
		return key, ok
	}
	best := ""
	var bestVersion string
	for key := range r.factories {
		name, version, _ := strings.Cut(key, "@")
		if name != ref {
			continue
		}
		if best == "" || semver.Compare(version, bestVersion) > 0 {
			best, bestVersion = key, version
		}
	}
	return best, best != ""
}

func (r *Registry) add(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[d.Key()]; ok {
		r.logger.Info("controller replaced",
			zap.String("controller", d.Key().String()),
			zap.String("previous", prev.Source),
			zap.String("source", d.Source),
		)
	}
	r.entries[d.Key()] = d
}

func (r *Registry) Lookup(name, version string) (Descriptor, bool) {
	v, err := canonicalVersion(version)
	if err != nil {
		return Descriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[Key{name, v}]
	return d, ok
}

// Latest returns the highest version registered under name.
func (r *Registry) Latest(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Descriptor
	found := false
	for k, d := range r.entries {
		if k.Name != name {
			continue
		}
		if !found || semver.Compare(k.Version, best.Version) > 0 {
			best, found = d, true
		}
	}
	return best, found
}

// Resolve accepts "name" or "name@version".
func (r *Registry) Resolve(ref string) (Descriptor, error) {
	name, version, pinned := strings.Cut(ref, "@")
	var (
		d  Descriptor
		ok bool
	)
	if pinned {
		d, ok = r.Lookup(name, version)
	} else {
		d, ok = r.Latest(name)
	}
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return d, nil
}

// List returns every descriptor ordered by name, then version.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return semver.Compare(out[i].Version, out[j].Version) < 0
	})
	return out
}

// Instantiate builds the controller only now, when a match seats it.
func (r *Registry) Instantiate(ctx context.Context, d Descriptor, seed int64) (Handle, error) {
	h := Handle{ID: uuid.New(), Descriptor: d}
	switch {
	case d.Exec != nil:
		proc, err := stdio.Start(ctx, d.Key().String(), stdio.Spec{
			Command: d.Exec.Command,
			Args:    d.Exec.Args,
			Env:     d.Exec.Env,
			Dir:     d.Dir,
		}, r.logger)
		if err != nil {
			return Handle{}, fmt.Errorf("instantiate %s: %w", d.Key(), err)
		}
		h.Controller = proc
	default:
		r.mu.RLock()
		f := r.factories[d.Builtin]
		r.mu.RUnlock()
		if f == nil {
			return Handle{}, fmt.Errorf("instantiate %s: %q: %w", d.Key(), d.Builtin, ErrNoFactory)
		}
		c, err := f(seed)
		if err != nil {
			return Handle{}, fmt.Errorf("instantiate %s: %w", d.Key(), err)
		}
		h.Controller = c
	}
	r.logger.Debug("controller instantiated", zap.String("controller", d.Key().String()), zap.Stringer("handle", h.ID))
	return h, nil
}
