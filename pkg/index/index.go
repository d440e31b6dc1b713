// Package index caches, per sheet, where each row lives and what its content
// looked like when last seen. The sheet API reports no per-row modification
// time, so a change in a row's content fingerprint is what dates an edit.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Entry struct {
	// Row is the 1-based sheet row number the row was last seen at.
	Row         int       `json:"row"`
	Fingerprint string    `json:"fingerprint"`
	ChangedAt   time.Time `json:"changed_at"`
}

type RowIndex struct {
	Entries map[string]Entry `json:"entries"`
	Path    string           `json:"-"`
	mu      sync.RWMutex
	dirty   bool
}

// DefaultPath is the index file for a sheet under the user config dir.
func DefaultPath(sheetID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sheetsync", "rows-"+sheetID+".json"), nil
}

// NewRowIndex opens the index at path, loading it if the file exists.
func NewRowIndex(path string) (*RowIndex, error) {
	idx := &RowIndex{
		Entries: make(map[string]Entry),
		Path:    path,
	}
	if _, err := os.Stat(path); err == nil {
		if err := idx.Load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *RowIndex) Load() error {
	f, err := os.Open(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := json.NewDecoder(f).Decode(idx); err != nil {
		return err
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]Entry)
	}
	return nil
}

func (idx *RowIndex) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(idx.Path), 0700); err != nil {
		return err
	}

	// Write then rename so a crash never leaves half a file.
	tmp := idx.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(idx); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, idx.Path); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

// Flush saves pending changes.
func (idx *RowIndex) Flush() error { return idx.Save() }

func (idx *RowIndex) Get(rowID string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.Entries[rowID]
	return e, ok
}

// Observe records the row's position and content. ChangedAt moves to now only
// when the fingerprint differs from the last one seen; the stored ChangedAt
// is returned.
func (idx *RowIndex) Observe(rowID string, row int, fingerprint string, now time.Time) time.Time {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.Entries[rowID]
	if !ok || e.Fingerprint != fingerprint {
		e.Fingerprint = fingerprint
		e.ChangedAt = now.UTC()
		e.Row = row
		idx.Entries[rowID] = e
		idx.dirty = true
		return e.ChangedAt
	}
	if e.Row != row {
		e.Row = row
		idx.Entries[rowID] = e
		idx.dirty = true
	}
	return e.ChangedAt
}

func (idx *RowIndex) Remove(rowID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.Entries[rowID]; exists {
		delete(idx.Entries, rowID)
		idx.dirty = true
	}
}

// Retain drops every entry whose row ID is not in seen.
func (idx *RowIndex) Retain(seen map[string]bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for id := range idx.Entries {
		if !seen[id] {
			delete(idx.Entries, id)
			idx.dirty = true
		}
	}
}

// Fingerprint hashes cell values in order.
func Fingerprint(values []string) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(strings.TrimSpace(v)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
