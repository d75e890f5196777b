package provider

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory builds an adapter for a provider config.
type Factory func(Config) Adapter

// Registry is read-only once the run starts; the lock guards registration
// done by callers that extend it at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *zap.SugaredLogger
}

func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{adapters: make(map[string]Adapter), log: log}
}

// Register adds an adapter. A duplicate identifier replaces the earlier
// registration and logs a warning.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.adapters[a.Name()]; ok {
		r.log.Warnw("provider_overridden",
			"provider", a.Name(),
			"previous_origin", prev.Config().Origin,
			"origin", a.Config().Origin,
		)
	}
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load registers the built-in providers followed by the entries of the
// PROVIDERS listing. Invalid listing entries are skipped with a warning.
func (r *Registry) Load(listing []byte, factory Factory) {
	for _, cfg := range Builtins() {
		r.Register(factory(cfg))
	}

	custom, errs := ParseListing(listing)
	for _, err := range errs {
		r.log.Warnw("provider_listing_entry_skipped", "err", err)
	}
	for _, cfg := range custom {
		r.Register(factory(cfg))
	}
	if len(custom) > 0 {
		r.log.Infow("provider_listing_loaded", "count", len(custom))
	}
}
