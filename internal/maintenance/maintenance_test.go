package maintenance

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/broker"
	"github.com/gcu-merk/edge-traffic-monitor/internal/fsutil"
	"github.com/gcu-merk/edge-traffic-monitor/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSweepTTLs_AppliesPolicyToUntimedKey(t *testing.T) {
	b := broker.New()
	defer b.Close()
	db := openTestStore(t)

	b.Set("radar:latest", []byte("{}"), 0) // no TTL set

	cfg := DefaultConfig(nil)
	m := New(b, db, fsutil.NewMemoryFileSystem(), cfg)
	m.sweepTTLs()

	if _, ok := b.HGetAll(KeyStats); !ok {
		t.Error("expected stats:maintenance hash to be updated")
	}
}

func TestSweepTTLs_AppliesPolicyToHashKey(t *testing.T) {
	b := broker.New()
	defer b.Close()
	db := openTestStore(t)

	b.HSet("weather:dht22:latest", map[string][]byte{"temperature_c": []byte("12.5")}, 0) // no TTL set

	cfg := DefaultConfig(nil)
	m := New(b, db, fsutil.NewMemoryFileSystem(), cfg)
	applied := m.applyPolicy(TTLPolicy{Key: "weather:dht22:latest", TTL: 20 * time.Millisecond})
	if applied != 1 {
		t.Fatalf("expected applyPolicy to refresh the hash key's TTL, got %d keys updated", applied)
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := b.HGetAll("weather:dht22:latest"); ok {
		t.Error("expected weather:dht22:latest to expire after its TTL was shortened")
	}
}

func TestPruneImages_UpdatesStats(t *testing.T) {
	b := broker.New()
	defer b.Close()
	db := openTestStore(t)
	fs := fsutil.NewMemoryFileSystem()

	dir := "/capture"
	fs.MkdirAll(dir, 0755)
	fs.WriteFile(filepath.Join(dir, "old.jpg"), []byte("x"), 0644)
	fs.WriteFile(filepath.Join(dir, "new.jpg"), []byte("y"), 0644)

	cfg := DefaultConfig([]string{dir})
	cfg.ImageMaxAge = time.Hour
	cfg.DiskFreePercent = func() (float64, error) { return 100, nil }
	m := New(b, db, fs, cfg)

	// MemoryFileSystem's ModTime is always zero, which is always "older"
	// than any positive cutoff, so both files look aged here; the real
	// assertion is that pruning runs without error and updates stats.
	m.pruneImages()

	if _, ok := b.HGetAll(KeyStats); !ok {
		t.Error("expected stats:maintenance hash to be updated after prune")
	}
}

func TestPruneImages_EmergencyHalvesThreshold(t *testing.T) {
	b := broker.New()
	defer b.Close()
	db := openTestStore(t)
	fs := fsutil.NewMemoryFileSystem()

	dir := "/capture"
	fs.MkdirAll(dir, 0755)

	cfg := DefaultConfig([]string{dir})
	cfg.ImageMaxAge = 24 * time.Hour
	cfg.EmergencyDiskPct = 10
	cfg.DiskFreePercent = func() (float64, error) { return 5, nil } // below threshold
	m := New(b, db, fs, cfg)

	m.pruneImages()

	fields, ok := b.HGetAll(KeyStats)
	if !ok {
		t.Fatal("expected stats hash to exist")
	}
	if string(fields["last_prune_emergency"]) != "true" {
		t.Errorf("expected emergency=true, got %q", fields["last_prune_emergency"])
	}
}

func TestVacuum_UpdatesStatsOnSuccess(t *testing.T) {
	b := broker.New()
	defer b.Close()
	db := openTestStore(t)

	cfg := DefaultConfig(nil)
	m := New(b, db, fsutil.NewMemoryFileSystem(), cfg)
	m.vacuum()

	fields, ok := b.HGetAll(KeyStats)
	if !ok {
		t.Fatal("expected stats hash to exist")
	}
	if _, ok := fields["last_vacuum"]; !ok {
		t.Error("expected last_vacuum field to be set")
	}
}
