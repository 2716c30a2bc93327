package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Manifest lists the archived files of one run by base name.
type Manifest struct {
	RunID      string            `json:"run_id"`
	ArchivedAt time.Time         `json:"archived_at"`
	Files      map[string]string `json:"files"`
}

// Archive stores every file and then the manifest describing them. The
// returned reference addresses the manifest.
func Archive(ctx context.Context, store Store, runID string, now time.Time, paths ...string) (string, Manifest, error) {
	m := Manifest{RunID: runID, ArchivedAt: now.UTC(), Files: make(map[string]string, len(paths))}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", Manifest{}, fmt.Errorf("archive %s: %w", p, err)
		}
		ref, err := store.Put(ctx, data)
		if err != nil {
			return "", Manifest{}, fmt.Errorf("archive %s: %w", p, err)
		}
		m.Files[filepath.Base(p)] = ref
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", Manifest{}, err
	}
	ref, err := store.Put(ctx, raw)
	if err != nil {
		return "", Manifest{}, fmt.Errorf("archive manifest: %w", err)
	}
	return ref, m, nil
}

// LoadManifest fetches and decodes a manifest by reference.
func LoadManifest(ctx context.Context, store Store, ref string) (Manifest, error) {
	raw, err := store.Get(ctx, ref)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", ref, err)
	}
	return m, nil
}
