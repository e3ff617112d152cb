package profile

import (
	"testing"

	"github.com/jeelkantaria/pgwire/internal/config"
	"github.com/jeelkantaria/pgwire/internal/metrics"
)

func newTestConfig() *config.Config {
	return &config.Config{
		Defaults: config.ProfileDefaults{Port: 5432},
		Profiles: map[string]config.ProfileConfig{
			"primary": {
				Host:     "pg-host",
				Database: "db1",
				Username: "user1",
			},
			"replica": {
				Host:     "pg-replica",
				Port:     5433,
				Database: "db1",
				Username: "user1",
			},
		},
	}
}

func TestResolve(t *testing.T) {
	r := New(newTestConfig())

	p, err := r.Resolve("primary")
	if err != nil {
		t.Fatalf("Resolve primary failed: %v", err)
	}
	if p.Host != "pg-host" {
		t.Errorf("expected pg-host, got %s", p.Host)
	}
}

func TestResolveUnknown(t *testing.T) {
	r := New(newTestConfig())

	if _, err := r.Resolve("nonexistent"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestConnConfig(t *testing.T) {
	r := New(newTestConfig())

	cc, err := r.ConnConfig("replica")
	if err != nil {
		t.Fatalf("ConnConfig failed: %v", err)
	}
	if cc.Host != "pg-replica" || cc.Port != 5433 || cc.User != "user1" {
		t.Errorf("ConnConfig = %+v", cc)
	}
}

func TestDisableAndEnable(t *testing.T) {
	r := New(newTestConfig())

	if r.IsDisabled("primary") {
		t.Fatal("expected primary to start enabled")
	}
	if !r.Disable("primary") {
		t.Fatal("Disable should return true for a known profile")
	}
	if !r.IsDisabled("primary") {
		t.Error("expected primary to be disabled")
	}
	if !r.Enable("primary") {
		t.Fatal("Enable should return true for a known profile")
	}
	if r.IsDisabled("primary") {
		t.Error("expected primary to be enabled again")
	}
}

func TestDisableUnknown(t *testing.T) {
	r := New(newTestConfig())

	if r.Disable("nonexistent") {
		t.Error("Disable should return false for an unknown profile")
	}
}

func TestNames(t *testing.T) {
	r := New(newTestConfig())

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}

func TestReloadPreservesDisabledForSurvivingProfiles(t *testing.T) {
	r := New(newTestConfig())
	r.Disable("primary")
	r.Disable("replica")

	newCfg := &config.Config{
		Defaults: config.ProfileDefaults{Port: 5432},
		Profiles: map[string]config.ProfileConfig{
			"primary": {Host: "pg-host-2", Database: "db1", Username: "user1"},
		},
	}
	r.Reload(newCfg)

	if !r.IsDisabled("primary") {
		t.Error("expected primary to remain disabled after reload")
	}
	if _, err := r.Resolve("replica"); err == nil {
		t.Error("expected replica to be gone after reload")
	}
	p, err := r.Resolve("primary")
	if err != nil {
		t.Fatalf("Resolve primary failed: %v", err)
	}
	if p.Host != "pg-host-2" {
		t.Errorf("expected reloaded host pg-host-2, got %s", p.Host)
	}
}

func TestReloadRemovesMetricsForDroppedProfiles(t *testing.T) {
	r := New(newTestConfig())
	m := metrics.New()
	r.SetMetrics(m)

	m.ConnectionOpened("replica")

	newCfg := &config.Config{
		Defaults: config.ProfileDefaults{Port: 5432},
		Profiles: map[string]config.ProfileConfig{
			"primary": {Host: "pg-host", Database: "db1", Username: "user1"},
		},
	}
	r.Reload(newCfg)

	if _, err := r.Resolve("replica"); err == nil {
		t.Fatal("expected replica to be gone after reload")
	}
	// RemoveProfile should have cleared replica's series; gathering must not
	// panic or keep returning stale data for it.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "pgwire_connections_open" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "profile" && label.GetValue() == "replica" {
					t.Errorf("expected no pgwire_connections_open series for replica after removal")
				}
			}
		}
	}
}
