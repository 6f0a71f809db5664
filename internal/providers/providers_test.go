package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulyops/sysdoctor/internal/config"
)

func TestDefaultRanking(t *testing.T) {
	r := NewRegistry(config.DefaultProviders())
	if got := r.Current(); got != "gdrive" {
		t.Errorf("Current() = %q, want gdrive", got)
	}
	if got := r.Fallback(); got != "dropbox" {
		t.Errorf("Fallback() = %q, want dropbox", got)
	}
	if n := len(r.Available()); n != 4 {
		t.Errorf("len(Available()) = %d, want 4", n)
	}
}

func TestNewRegistrySortsAndCopies(t *testing.T) {
	in := []config.Provider{
		{Name: "s3", Priority: 3, Enabled: true},
		{Name: "gdrive", Priority: 1, Enabled: true},
	}
	r := NewRegistry(in)
	in[0].Name = "mutated"
	ps := r.ByPriority()
	if ps[0].Name != "gdrive" || ps[1].Name != "s3" {
		t.Errorf("ByPriority() = %v", ps)
	}
}

func TestCurrentAndFallbackWithDisabled(t *testing.T) {
	r := NewRegistry([]config.Provider{
		{Name: "gdrive", Priority: 1, Enabled: false},
		{Name: "dropbox", Priority: 2, Enabled: false},
		{Name: "s3", Priority: 3, Enabled: true},
		{Name: "local", Priority: 4, Enabled: true},
	})
	if got := r.Current(); got != Local {
		t.Errorf("Current() with primary disabled = %q, want %q", got, Local)
	}
	if got := r.Fallback(); got != "s3" {
		t.Errorf("Fallback() = %q, want s3", got)
	}
	var names []string
	for _, p := range r.Available() {
		names = append(names, p.Name)
	}
	if got := strings.Join(names, ","); got != "s3,local" {
		t.Errorf("Available() = %s, want s3,local", got)
	}

	empty := NewRegistry(nil)
	if empty.Current() != Local || empty.Fallback() != Local {
		t.Error("empty registry should resolve to local")
	}
}

func TestLookup(t *testing.T) {
	r := NewRegistry(config.DefaultProviders())
	if p, ok := r.Lookup("s3"); !ok || p.Priority != 3 {
		t.Errorf("Lookup(s3) = %+v, %v", p, ok)
	}
	if _, ok := r.Lookup("ftp"); ok {
		t.Error("Lookup(ftp) should miss")
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	ctx := context.Background()
	p := HTTPProber{}
	if err := p.Probe(ctx, config.Provider{Name: "noop"}); err != nil {
		t.Errorf("Probe(no url) = %v, want nil", err)
	}
	if err := p.Probe(ctx, config.Provider{Name: "s3", HealthURL: srv.URL + "/up"}); err != nil {
		t.Errorf("Probe(up) = %v, want nil", err)
	}
	err := p.Probe(ctx, config.Provider{Name: "s3", HealthURL: srv.URL + "/down"})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("Probe(down) = %v, want status 503 error", err)
	}
	if err := p.Probe(ctx, config.Provider{Name: "bad", HealthURL: "://nope"}); err == nil {
		t.Error("Probe(bad url) should fail")
	}
}

func TestProberFunc(t *testing.T) {
	var seen string
	f := ProberFunc(func(_ context.Context, p config.Provider) error {
		seen = p.Name
		return nil
	})
	if err := f.Probe(context.Background(), config.Provider{Name: "dropbox"}); err != nil || seen != "dropbox" {
		t.Errorf("ProberFunc did not forward: %q, %v", seen, err)
	}
}
