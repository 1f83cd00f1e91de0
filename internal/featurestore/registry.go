package featurestore

import (
	"fmt"
	"sync"

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Registry is a process-wide, initialized-at-startup mapping from
// feature name (and version) to FeatureDefinition. It is read-only
// after initialization: keeping it immutable during serving removes a
// coordination point from the hot path. New versions ship by restart,
// never by mutation mid-flight; there is no in-place reload.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]map[int]*fs.FeatureDefinition // name -> version -> def
	latest map[string]int                           // name -> highest registered version
	sealed bool
}

// NewRegistry creates an empty, unsealed registry. Call Register for
// each definition, then Seal to close it to further writes.
func NewRegistry() *Registry {
	return &Registry{
		defs:   make(map[string]map[int]*fs.FeatureDefinition),
		latest: make(map[string]int),
	}
}

// Register adds a feature definition. Permitted only before Seal; it
// fails with an AlreadyRegistered-shaped error if (name, version)
// already exists.
func (r *Registry) Register(def fs.FeatureDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("featurestore: registry sealed, cannot register %q v%d", def.Name, def.Version)
	}
	if def.Name == "" {
		return fmt.Errorf("featurestore: feature definition missing name")
	}
	if def.Compute == nil {
		return fmt.Errorf("featurestore: feature %q v%d missing compute function", def.Name, def.Version)
	}

	versions, ok := r.defs[def.Name]
	if !ok {
		versions = make(map[int]*fs.FeatureDefinition)
		r.defs[def.Name] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return fmt.Errorf("featurestore: feature %q version %d already registered", def.Name, def.Version)
	}

	defCopy := def
	versions[def.Version] = &defCopy
	if def.Version > r.latest[def.Name] {
		r.latest[def.Name] = def.Version
	}
	return nil
}

// Seal closes the registry to further Register calls. Lookups are
// unsynchronized-fast (RLock only) whether or not the registry is
// sealed, but sealing is the documented contract: serving code should
// only run after Seal has been called once at startup.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the definition for name at version, or the latest
// registered version if version is 0. It fails with fs.ErrUnknownFeature
// if no such (name, version) exists.
func (r *Registry) Lookup(name string, version int) (*fs.FeatureDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", fs.ErrUnknownFeature, name)
	}
	if version == 0 {
		version = r.latest[name]
	}
	def, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q version %d", fs.ErrUnknownFeature, name, version)
	}
	return def, nil
}

// Names returns every registered feature name, for diagnostics such
// as the scheduler's registry TTL sanity job.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Count returns the number of distinct registered feature names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
