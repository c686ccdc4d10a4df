package automation

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportVersion is the current export document schema version.
const ExportVersion = 1

// ExportDoc is the import/export document exchanged with the dashboard and
// other jat-sentinel installs.
type ExportDoc struct {
	Version    int          `json:"version"`
	Rules      []*Rule      `json:"rules"`
	Config     GlobalConfig `json:"config"`
	ExportedAt time.Time    `json:"exported_at"`
}

// ImportMode selects how imported rules combine with existing ones.
type ImportMode string

const (
	// ImportReplace discards all existing rules before importing.
	ImportReplace ImportMode = "replace"
	// ImportMerge upserts by rule ID, leaving unrelated rules untouched.
	ImportMerge ImportMode = "merge"
)

// Export snapshots all rules and the global config into an export document.
func Export(store Store) (*ExportDoc, error) {
	rules, err := store.ListRules()
	if err != nil {
		return nil, fmt.Errorf("export rules: %w", err)
	}
	cfg, err := store.Config()
	if err != nil {
		return nil, fmt.Errorf("export config: %w", err)
	}
	return &ExportDoc{
		Version:    ExportVersion,
		Rules:      rules,
		Config:     cfg,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// Import applies an export document to the store. Every incoming rule is
// validated first; a document with any invalid rule is rejected wholesale so
// a partial import never leaves the store half-written.
func Import(store Store, doc *ExportDoc, mode ImportMode) (imported int, err error) {
	if doc == nil {
		return 0, fmt.Errorf("nil import document")
	}
	if doc.Version > ExportVersion {
		return 0, fmt.Errorf("unsupported export version %d", doc.Version)
	}
	for _, r := range doc.Rules {
		if err := r.Validate(); err != nil {
			return 0, fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}

	if mode == ImportReplace {
		existing, err := store.ListRules()
		if err != nil {
			return 0, fmt.Errorf("list existing rules: %w", err)
		}
		for _, r := range existing {
			if err := store.DeleteRule(r.ID); err != nil {
				return 0, fmt.Errorf("delete rule %s: %w", r.ID, err)
			}
		}
	}

	for _, r := range doc.Rules {
		r.UpdatedAt = time.Now().UTC()
		if err := store.SaveRule(r); err != nil {
			return imported, fmt.Errorf("save rule %q: %w", r.Name, err)
		}
		imported++
	}

	if err := store.SaveConfig(doc.Config); err != nil {
		return imported, fmt.Errorf("save config: %w", err)
	}
	return imported, nil
}

// ParseExportDoc decodes an export document from JSON.
func ParseExportDoc(data []byte) (*ExportDoc, error) {
	var doc ExportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse export document: %w", err)
	}
	return &doc, nil
}
