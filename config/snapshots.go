package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SnapshotPlan is the content of a snapshot plan file: the snapshots a
// deployment opens at startup, kept apart from the main configuration so it
// can differ per environment.
type SnapshotPlan struct {
	Snapshots []SnapshotEntry `yaml:"snapshots"`
}

// LoadSnapshotPlan loads and validates a snapshot plan file.
func LoadSnapshotPlan(path string) (*SnapshotPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot plan: %w", err)
	}
	var plan SnapshotPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot plan: %w", err)
	}
	for i, entry := range plan.Snapshots {
		if err := validateSnapshotEntry(entry); err != nil {
			return nil, fmt.Errorf("snapshot plan entry %d: %w", i, err)
		}
	}
	return &plan, nil
}

// SnapshotEntries merges the inline entries with the plan file, if any.
// Inline entries come first.
func (c *Config) SnapshotEntries() ([]SnapshotEntry, error) {
	entries := append([]SnapshotEntry(nil), c.Snapshots.Entries...)
	if c.Snapshots.PlanFile == "" {
		return entries, nil
	}
	plan, err := LoadSnapshotPlan(resolvePlanPath(c.Snapshots.PlanFile))
	if err != nil {
		return nil, err
	}
	return append(entries, plan.Snapshots...), nil
}
