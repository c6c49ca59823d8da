package cache

import (
	"errors"
	"testing"
)

func TestNamesFor(t *testing.T) {
	names := NamesFor("")
	if names.Entries != "xk6_cache_entry_count" || names.Hits != "xk6_cache_hit_count" || names.Misses != "xk6_cache_miss_count" {
		t.Fatalf("unexpected default names: %+v", names)
	}
	if NamesFor("vendor").Hits != "vendor_hit_count" {
		t.Fatalf("prefix should be applied to every metric")
	}
}

func TestMetricsNoopBeforeEnable(t *testing.T) {
	metrics := NewMetrics()
	store := NewStore(WithMetrics(metrics))
	resolver := newTestResolver(t, store, metrics, staticFetcher("body"))

	if _, err := resolver.Resolve(t.Context(), "https://example.com/a.js"); err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if _, err := resolver.Resolve(t.Context(), "https://example.com/a.js"); err != nil {
		t.Fatalf("resolve error: %v", err)
	}

	snapshot := metrics.Snapshot()
	if snapshot.Enabled || snapshot.Hits != 0 || snapshot.Misses != 0 || snapshot.Entries != 0 {
		t.Fatalf("disabled metrics must not record anything: %+v", snapshot)
	}
}

func TestMetricsEnableIdempotent(t *testing.T) {
	calls := 0
	metrics := NewMetrics(WithRegistrar(RegistrarFunc(func(MetricNames) error {
		calls++
		return nil
	})))

	if err := metrics.Enable("vendor"); err != nil {
		t.Fatalf("enable error: %v", err)
	}
	if err := metrics.Enable("vendor"); err != nil {
		t.Fatalf("repeated enable with same prefix should succeed, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("registrar should be called once, got %d", calls)
	}
	if !metrics.Measure("vendor") {
		t.Fatalf("measure with the active prefix should report true")
	}
}

func TestMetricsPrefixConflict(t *testing.T) {
	metrics := NewMetrics()
	if err := metrics.Enable(""); err != nil {
		t.Fatalf("enable error: %v", err)
	}

	err := metrics.Enable("other")
	if !errors.Is(err, ErrMetricsConflict) {
		t.Fatalf("expected ErrMetricsConflict, got %v", err)
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("metrics conflict should classify as configuration error")
	}
	if metrics.Names().Hits != "xk6_cache_hit_count" {
		t.Fatalf("active prefix must not change after conflict")
	}
}

func TestMetricsRegistrarFailure(t *testing.T) {
	metrics := NewMetrics(WithRegistrar(RegistrarFunc(func(MetricNames) error {
		return errors.New("metric already registered with different type")
	})))

	if metrics.Measure("") {
		t.Fatalf("measure should report false when registration fails")
	}
	if metrics.Enabled() {
		t.Fatalf("metrics must stay disabled after a failed registration")
	}
}

func TestMetricsEntryGaugeTracksStore(t *testing.T) {
	metrics := NewMetrics()
	store := NewStore(WithMetrics(metrics))
	if err := store.Put("https://example.com/a.js", []byte("a")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	if err := metrics.Enable(""); err != nil {
		t.Fatalf("enable error: %v", err)
	}
	if got := metrics.Snapshot().Entries; got != 1 {
		t.Fatalf("gauge should start from current store size, got %d", got)
	}

	if err := store.Put("https://example.com/b.js", []byte("b")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if got := metrics.Snapshot().Entries; got != int64(store.Size()) {
		t.Fatalf("gauge %d should equal store size %d", got, store.Size())
	}
}

func TestMetricsLoadedStoreGauge(t *testing.T) {
	seed := NewStore()
	for _, key := range []string{"a", "b", "c"} {
		if err := seed.Put(key, []byte(key)); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	data, _ := seed.Dump()

	metrics := NewMetrics()
	if err := metrics.Enable(""); err != nil {
		t.Fatalf("enable error: %v", err)
	}
	if _, err := Load(data, WithMetrics(metrics)); err != nil {
		t.Fatalf("load error: %v", err)
	}
	if got := metrics.Snapshot().Entries; got != 3 {
		t.Fatalf("gauge should reflect loaded entries, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var metrics *Metrics
	if metrics.Enabled() {
		t.Fatalf("nil metrics should report disabled")
	}
	if metrics.Snapshot().Enabled {
		t.Fatalf("nil metrics snapshot should be empty")
	}
	metrics.recordHit()
	metrics.recordMiss()
	metrics.setEntries(10)
}
