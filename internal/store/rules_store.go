package store

import (
	"fmt"
	"os"
	"sort"

	"fjacquet/bank-recon/internal/rules"

	"gopkg.in/yaml.v3"
)

// RuleStore holds the firm rule configuration and hands out immutable
// per-run snapshots sorted by priority.
type RuleStore struct {
	snapshot []*rules.MatchRule
}

// NewRuleStore creates a store over the given rules. Every rule is compiled
// and the set is sorted by ascending priority, with the id as tiebreak.
func NewRuleStore(list []*rules.MatchRule) (*RuleStore, error) {
	snapshot := append([]*rules.MatchRule(nil), list...)
	for _, r := range snapshot {
		if err := r.Compile(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].Priority != snapshot[j].Priority {
			return snapshot[i].Priority < snapshot[j].Priority
		}
		return snapshot[i].ID < snapshot[j].ID
	})
	return &RuleStore{snapshot: snapshot}, nil
}

// ruleFile is the YAML document shape of a rule configuration file.
type ruleFile struct {
	Rules []*rules.MatchRule `yaml:"rules"`
}

// LoadRulesFromYAML reads a rule configuration file into a RuleStore.
func LoadRulesFromYAML(path string) (*RuleStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading rule file: %w", err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing rule file %s: %w", path, err)
	}

	store, err := NewRuleStore(doc.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	log.WithFields(map[string]interface{}{
		"file":  path,
		"rules": len(store.snapshot),
	}).Info("Loaded match rules")
	return store, nil
}

// Snapshot returns the priority-ordered rule set. Callers must treat it as
// read-only for the duration of a matching run.
func (s *RuleStore) Snapshot() []*rules.MatchRule {
	return s.snapshot
}

// SaveRulesToYAML writes the rule set back out, preserving priority order.
func SaveRulesToYAML(path string, list []*rules.MatchRule) error {
	data, err := yaml.Marshal(ruleFile{Rules: list})
	if err != nil {
		return fmt.Errorf("error serializing rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing rule file: %w", err)
	}
	return nil
}
