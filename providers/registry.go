package providers

import (
	"fmt"
	"sort"
)

// Registry is the read-only table of configured services.
// It is immutable after NewRegistry returns, so it needs no locking.
type Registry struct {
	configs map[string]Config
	names   []string
}

// NewRegistry validates and registers the given service configs.
// Duplicate service names are rejected.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]Config, len(configs)),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid provider config: %w", err)
		}
		if _, exists := r.configs[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate provider config for %q", cfg.Name)
		}
		r.configs[cfg.Name] = cfg.clone()
		r.names = append(r.names, cfg.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

// Get returns the config for a service, or ErrUnknownService.
// The returned value is a copy and may be modified freely.
func (r *Registry) Get(service string) (Config, error) {
	cfg, ok := r.configs[service]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return cfg.clone(), nil
}

// Has reports whether a service is registered
func (r *Registry) Has(service string) bool {
	_, ok := r.configs[service]
	return ok
}

// Services returns the registered service identifiers in sorted order
func (r *Registry) Services() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	return len(r.names)
}
