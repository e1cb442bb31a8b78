package vm

import (
	"path/filepath"
	"sort"
	"testing"
)

// ---------------------------------------------------------------------------
// Profile Persistence Tests
// ---------------------------------------------------------------------------

func openTestStore(t *testing.T) (*ProfileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.db")
	store, err := OpenProfileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

// TestProfileStoreRoundTrip verifies Save then Load preserves every field.
func TestProfileStoreRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	in := []*LoopProfile{
		{Key: LoopKey{Code: "main", Start: 4}, End: 12, BackEdges: 5000, IsHot: true},
		{Key: LoopKey{Code: "main", Start: 20}, End: 25, BackEdges: 3, IsHot: false},
		{Key: LoopKey{Code: "helper", Start: 0}, End: 6, BackEdges: 1200, IsHot: true},
	}
	if err := store.Save(in); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("loaded %d profiles, want 3", len(out))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Code != out[j].Key.Code {
			return out[i].Key.Code < out[j].Key.Code
		}
		return out[i].Key.Start < out[j].Key.Start
	})
	sort.Slice(in, func(i, j int) bool {
		if in[i].Key.Code != in[j].Key.Code {
			return in[i].Key.Code < in[j].Key.Code
		}
		return in[i].Key.Start < in[j].Key.Start
	})
	for i := range in {
		if *out[i] != *in[i] {
			t.Errorf("profile %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

// TestProfileStoreUpsert verifies re-saving the same loop updates in place.
func TestProfileStoreUpsert(t *testing.T) {
	store, _ := openTestStore(t)
	key := LoopKey{Code: "main", Start: 4}

	if err := store.Save([]*LoopProfile{{Key: key, End: 12, BackEdges: 10}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save([]*LoopProfile{{Key: key, End: 12, BackEdges: 9000, IsHot: true}}); err != nil {
		t.Fatal(err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("loaded %d profiles, want 1", len(out))
	}
	if out[0].BackEdges != 9000 || !out[0].IsHot {
		t.Errorf("upserted profile = %+v", out[0])
	}
}

// TestProfileStoreClear verifies Clear empties the table.
func TestProfileStoreClear(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.Save([]*LoopProfile{
		{Key: LoopKey{Code: "main", Start: 0}, End: 5, BackEdges: 100},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	out, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("loaded %d profiles after clear, want 0", len(out))
	}
}

// TestVMPersistsProfilesOnClose verifies the end-to-end path: a run that
// turns a loop hot, Close persisting it, and a fresh VM seeing it hot at
// startup without re-profiling.
func TestVMPersistsProfilesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	cfg := DefaultConfig()
	cfg.LoopHotThreshold = 10
	cfg.ProfileDB = path

	m1, err := NewVM(cfg)
	if err != nil {
		t.Fatal(err)
	}
	code, start := buildCountLoop()
	if _, err := m1.Run(code, IntValue(50)); err != nil {
		t.Fatal(err)
	}
	if err := m1.Close(); err != nil {
		t.Fatal(err)
	}

	m2, err := NewVM(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	key := LoopKey{Code: "count", Start: start}
	profile := m2.Profiler().Get(key)
	if profile == nil || !profile.IsHot {
		t.Fatalf("seeded profile = %+v, want hot", profile)
	}
	if profile.BackEdges < 10 {
		t.Errorf("seeded back-edges = %d, want >= 10", profile.BackEdges)
	}
}
