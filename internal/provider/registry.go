package provider

import "strings"

// ProviderInfo summarizes a registered provider for the status endpoint.
type ProviderInfo struct {
	SignatureHeader string `json:"signature_header"`
	SecretConfigured bool  `json:"secret_configured"`
}

// RegistryStatus is the shape returned by GET /providers.
type RegistryStatus struct {
	Total      int                     `json:"total_providers"`
	Configured int                     `json:"configured_providers"`
	Providers  map[string]ProviderInfo `json:"providers"`
}

// Registry is an immutable, case-insensitive lookup of webhook providers.
// Built once at startup from an explicit list rather than reflection-based
// discovery; safe for concurrent reads without locking.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry builds a registry from an explicit provider list. Registering
// the same name twice is a programming error and panics at startup rather
// than silently letting the second registration win.
func NewRegistry(providers ...Provider) *Registry {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		key := strings.ToLower(p.Name())
		if _, exists := byName[key]; exists {
			panic("provider: duplicate registration for " + key)
		}
		byName[key] = p
	}
	return &Registry{byName: byName}
}

// Get looks up a provider by name, case-insensitively.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// ListNames returns every registered provider name.
func (r *Registry) ListNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Status reports registration and secret-configuration state for every
// provider, used by the operator-facing /providers endpoint.
func (r *Registry) Status() RegistryStatus {
	status := RegistryStatus{
		Providers: make(map[string]ProviderInfo, len(r.byName)),
	}
	for name, p := range r.byName {
		_, configured := p.Secret()
		status.Providers[name] = ProviderInfo{
			SignatureHeader:  p.SignatureHeader(),
			SecretConfigured: configured,
		}
		status.Total++
		if configured {
			status.Configured++
		}
	}
	return status
}
