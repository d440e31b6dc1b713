package index

import (
	"path/filepath"
	"testing"
	"time"
)

func TestObserveDatesContentChanges(t *testing.T) {
	idx, err := NewRowIndex(filepath.Join(t.TempDir(), "rows.json"))
	if err != nil {
		t.Fatalf("NewRowIndex failed: %v", err)
	}
	t0 := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	fp := Fingerprint([]string{"Pay rent", "Open"})

	if got := idx.Observe("r1", 2, fp, t0); !got.Equal(t0) {
		t.Errorf("first observation = %s, want %s", got, t0)
	}
	if got := idx.Observe("r1", 5, fp, t0.Add(time.Hour)); !got.Equal(t0) {
		t.Errorf("unchanged content moved ChangedAt to %s", got)
	}
	if e, _ := idx.Get("r1"); e.Row != 5 {
		t.Errorf("row number = %d, want 5", e.Row)
	}

	changed := Fingerprint([]string{"Pay rent", "Done"})
	if got := idx.Observe("r1", 5, changed, t0.Add(2*time.Hour)); !got.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("changed content ChangedAt = %s", got)
	}
}

func TestFingerprintIgnoresSurroundingSpace(t *testing.T) {
	if Fingerprint([]string{"a", "b"}) != Fingerprint([]string{" a ", "b"}) {
		t.Error("whitespace changed the fingerprint")
	}
	if Fingerprint([]string{"ab", ""}) == Fingerprint([]string{"a", "b"}) {
		t.Error("cell boundaries are not part of the fingerprint")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rows.json")
	idx, err := NewRowIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 2, 1, 8, 0, 0, 123, time.UTC)
	idx.Observe("r1", 2, "abc", at)
	idx.Observe("r2", 3, "def", at)
	idx.Retain(map[string]bool{"r1": true})
	if err := idx.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	again, err := NewRowIndex(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	e, ok := again.Get("r1")
	if !ok || e.Row != 2 || e.Fingerprint != "abc" || !e.ChangedAt.Equal(at) {
		t.Errorf("reloaded entry = %+v, %v", e, ok)
	}
	if _, ok := again.Get("r2"); ok {
		t.Error("retained entry r2 should be gone")
	}
}
