// Package providers ranks the external storage backends the application
// depends on and probes their health.
//
// Priority 1 is the primary. The registry is constructed from config and
// passed to whoever needs it; there is no process-global instance.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/paulyops/sysdoctor/internal/config"
)

// Local is the always-available last resort when no ranked provider fits.
const Local = "local"

// Registry is a ranked set of providers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers []config.Provider
}

// NewRegistry returns a registry holding a copy of ps.
func NewRegistry(ps []config.Provider) *Registry {
	r := &Registry{providers: append([]config.Provider(nil), ps...)}
	r.sortByPriority()
	return r
}

func (r *Registry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}

// ByPriority returns all providers, lowest priority number first.
func (r *Registry) ByPriority() []config.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]config.Provider(nil), r.providers...)
}

// Available returns the enabled providers in priority order.
func (r *Registry) Available() []config.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []config.Provider
	for _, p := range r.providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the named provider.
func (r *Registry) Lookup(name string) (config.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return config.Provider{}, false
}

// Current returns the enabled provider at priority 1, or [Local].
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Enabled && p.Priority == 1 {
			return p.Name
		}
	}
	return Local
}

// Fallback returns the highest-ranked enabled provider below the primary,
// or [Local].
func (r *Registry) Fallback() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Enabled && p.Priority > 1 {
			return p.Name
		}
	}
	return Local
}

// Prober checks whether a provider is reachable.
type Prober interface {
	Probe(ctx context.Context, p config.Provider) error
}

// ProberFunc adapts a function to [Prober].
type ProberFunc func(ctx context.Context, p config.Provider) error

// Probe implements [Prober].
func (f ProberFunc) Probe(ctx context.Context, p config.Provider) error { return f(ctx, p) }

// DefaultProbeTimeout bounds a single HTTP health probe.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProber issues GET requests against each provider's HealthURL. A
// provider without a HealthURL is treated as healthy; any 2xx or 3xx
// response is healthy.
type HTTPProber struct {
	Client *http.Client
}

// Probe implements [Prober].
func (h HTTPProber) Probe(ctx context.Context, p config.Provider) error {
	if p.HealthURL == "" {
		return nil
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.Name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probing %s: status %d", p.Name, resp.StatusCode)
	}
	return nil
}
