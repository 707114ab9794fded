package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// modelIndexFile sits next to the generated files and records every type
// declared in the output package, so later runs can reuse or avoid them.
const modelIndexFile = "models_index.json"

const modelIndexVersion = 1

type modelIndexEntry struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	File        string   `json:"file"`
	Schema      string   `json:"schema"`
	Members     []string `json:"members,omitempty"`
}

type modelIndex struct {
	Version int               `json:"version"`
	Entries []modelIndexEntry `json:"entries"`
}

// loadModelIndex reads the index in dir. A missing file yields an empty index.
// Entries whose file no longer exists are dropped.
func loadModelIndex(dir string) (*modelIndex, error) {
	path := filepath.Join(dir, modelIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &modelIndex{Version: modelIndexVersion}, nil
		}
		return nil, fmt.Errorf("read model index: %w", err)
	}

	var idx modelIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse model index %s: %w", path, err)
	}
	kept := idx.Entries[:0]
	for _, e := range idx.Entries {
		if fileExists(filepath.Join(dir, e.File)) {
			kept = append(kept, e)
		}
	}
	idx.Entries = kept
	idx.Version = modelIndexVersion
	return &idx, nil
}

// without returns the entries not declared in file.
func (idx *modelIndex) without(file string) []modelIndexEntry {
	var out []modelIndexEntry
	for _, e := range idx.Entries {
		if e.File != file {
			out = append(out, e)
		}
	}
	return out
}

// merge replaces every entry of file with entries.
func (idx *modelIndex) merge(file string, entries []modelIndexEntry) {
	idx.Entries = append(idx.without(file), entries...)
	sort.Slice(idx.Entries, func(i, j int) bool {
		if idx.Entries[i].Name != idx.Entries[j].Name {
			return idx.Entries[i].Name < idx.Entries[j].Name
		}
		return idx.Entries[i].File < idx.Entries[j].File
	})
}

func (idx *modelIndex) write(dir string) error {
	encoded, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model index: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, modelIndexFile), append(encoded, '\n'))
}
