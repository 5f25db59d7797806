// Package strategy defines the Detector interface for entry/exit signal
// logic and provides a Registry for managing multiple implementations.
package strategy

import (
	"sort"

	"kepler/internal/domain"
)

// Detector is the signal layer the trading algorithm depends on. Both
// methods are pure predicates over two adjacent rows: prev is the last
// fully closed bar and cur is the bar whose open the trade would execute
// at. Implementations must treat missing (NaN) indicator values on prev as
// "no signal" rather than panicking, since indicator warmup leaves the
// first rows undefined.
type Detector interface {
	// Name returns the unique identifier for this detector.
	Name() string

	// DetectEntry reports whether an entry should execute at cur's open.
	DetectEntry(prev, cur domain.Row) bool

	// DetectExit reports whether an open trade should close at cur's open.
	DetectExit(prev, cur domain.Row) bool
}

// Registry holds a named collection of detectors for lookup and
// enumeration.
type Registry struct {
	detectors map[string]Detector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]Detector),
	}
}

// Register adds a detector to the registry, keyed by its Name().
func (r *Registry) Register(d Detector) {
	r.detectors[d.Name()] = d
}

// Get retrieves a detector by name. The second return value indicates
// whether the detector was found.
func (r *Registry) Get(name string) (Detector, bool) {
	d, ok := r.detectors[name]
	return d, ok
}

// List returns a sorted slice of all registered detector names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
