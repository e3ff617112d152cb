// Package profile resolves named connection profiles from a live config,
// supporting lock-free reads and safe hot-reload.
package profile

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jeelkantaria/pgwire"
	"github.com/jeelkantaria/pgwire/internal/config"
	"github.com/jeelkantaria/pgwire/internal/metrics"
)

// snapshot is an immutable point-in-time view of the profile table.
// Stored in atomic.Value for lock-free reads on the hot path.
type snapshot struct {
	profiles map[string]config.ProfileConfig
	defaults config.ProfileDefaults
	disabled map[string]bool
}

// Resolver resolves profile names to connection configurations.
// Resolve and IsDisabled are lock-free via atomic.Value; mutations
// serialize on a write mutex and swap in a new snapshot.
type Resolver struct {
	snap atomic.Value // holds *snapshot
	wmu  sync.Mutex   // serializes mutations (writes are rare)

	// metrics, when set via SetMetrics, has its series cleaned up for any
	// profile a Reload drops from the table.
	metrics *metrics.Collector
}

// New creates a Resolver populated from cfg.
func New(cfg *config.Config) *Resolver {
	s := &snapshot{
		profiles: make(map[string]config.ProfileConfig, len(cfg.Profiles)),
		defaults: cfg.Defaults,
		disabled: make(map[string]bool),
	}
	for name, p := range cfg.Profiles {
		s.profiles[name] = p
	}

	r := &Resolver{}
	r.snap.Store(s)
	return r
}

// SetMetrics attaches a collector whose profile series are cleaned up when
// Reload drops a profile from the table.
func (r *Resolver) SetMetrics(m *metrics.Collector) {
	r.metrics = m
}

func (r *Resolver) load() *snapshot {
	return r.snap.Load().(*snapshot)
}

// cloneSnap returns a mutable deep copy of the current snapshot. Must be
// called with wmu held.
func (r *Resolver) cloneSnap() *snapshot {
	cur := r.load()
	newProfiles := make(map[string]config.ProfileConfig, len(cur.profiles))
	for name, p := range cur.profiles {
		newProfiles[name] = p
	}
	newDisabled := make(map[string]bool, len(cur.disabled))
	for name, v := range cur.disabled {
		newDisabled[name] = v
	}
	return &snapshot{
		profiles: newProfiles,
		defaults: cur.defaults,
		disabled: newDisabled,
	}
}

// Resolve returns the raw ProfileConfig for name. Lock-free.
func (r *Resolver) Resolve(name string) (config.ProfileConfig, error) {
	snap := r.load()
	p, ok := snap.profiles[name]
	if !ok {
		return config.ProfileConfig{}, fmt.Errorf("unknown profile: %q", name)
	}
	return p, nil
}

// ConnConfig resolves name and converts it straight into a pgwire.Config,
// ready to pass to pgwire.Open.
func (r *Resolver) ConnConfig(name string) (pgwire.Config, error) {
	snap := r.load()
	p, ok := snap.profiles[name]
	if !ok {
		return pgwire.Config{}, fmt.Errorf("unknown profile: %q", name)
	}
	return p.ConnConfig(snap.defaults), nil
}

// Disable marks a profile as administratively disabled. Returns false if
// the profile is not found.
func (r *Resolver) Disable(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.profiles[name]; !ok {
		return false
	}

	s := r.cloneSnap()
	s.disabled[name] = true
	r.snap.Store(s)
	return true
}

// Enable clears a profile's disabled state. Returns false if the profile
// is not found.
func (r *Resolver) Enable(name string) bool {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	if _, ok := cur.profiles[name]; !ok {
		return false
	}

	s := r.cloneSnap()
	delete(s.disabled, name)
	r.snap.Store(s)
	return true
}

// IsDisabled reports whether a profile is currently disabled. Lock-free.
func (r *Resolver) IsDisabled(name string) bool {
	return r.load().disabled[name]
}

// Names returns every profile name currently known, in no particular order.
func (r *Resolver) Names() []string {
	snap := r.load()
	names := make([]string, 0, len(snap.profiles))
	for name := range snap.profiles {
		names = append(names, name)
	}
	return names
}

// Defaults returns the current shared defaults. Lock-free.
func (r *Resolver) Defaults() config.ProfileDefaults {
	return r.load().defaults
}

// Reload replaces the entire profile table from a new config, preserving
// disabled state for profiles that still exist.
func (r *Resolver) Reload(cfg *config.Config) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	cur := r.load()
	newProfiles := make(map[string]config.ProfileConfig, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		newProfiles[name] = p
	}

	newDisabled := make(map[string]bool)
	for name, v := range cur.disabled {
		if _, exists := newProfiles[name]; exists {
			newDisabled[name] = v
		}
	}

	if r.metrics != nil {
		for name := range cur.profiles {
			if _, exists := newProfiles[name]; !exists {
				r.metrics.RemoveProfile(name)
			}
		}
	}

	r.snap.Store(&snapshot{
		profiles: newProfiles,
		defaults: cfg.Defaults,
		disabled: newDisabled,
	})
}
