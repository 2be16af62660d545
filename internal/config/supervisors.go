package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Supervisor node types.
const (
	TypeRouter      = "router"
	TypeCoordinator = "coordinator"
	TypeSpecialist  = "specialist"
)

// RuleConfig describes one rule owned by a supervisor node.
type RuleConfig struct {
	ID               string `koanf:"id" json:"id"`
	Description      string `koanf:"description" json:"description"`
	Severity         string `koanf:"severity" json:"severity"`
	Check            string `koanf:"check" json:"check"`
	ExampleViolation string `koanf:"example_violation" json:"example_violation,omitempty"`
	Enabled          *bool  `koanf:"enabled" json:"enabled,omitempty"`
}

// SupervisorConfig describes one node of the supervisor hierarchy.
type SupervisorConfig struct {
	ID       string       `koanf:"id" json:"id"`
	Name     string       `koanf:"name" json:"name"`
	Type     string       `koanf:"type" json:"type"`
	ParentID string       `koanf:"parent_id" json:"parent_id,omitempty"`
	Keywords []string     `koanf:"keywords" json:"keywords,omitempty"`
	Rules    []RuleConfig `koanf:"rules" json:"rules,omitempty"`
	Enabled  *bool        `koanf:"enabled" json:"enabled,omitempty"`
}

// RuleEnabled reports whether a rule is enabled. Rules default to enabled
// when the field is omitted.
func (r *RuleConfig) RuleEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// NodeEnabled reports whether the node is enabled, defaulting to true.
func (s *SupervisorConfig) NodeEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoadSupervisors reads the supervisor hierarchy from a YAML file of the form:
//
//	supervisors:
//	  - id: root
//	    name: Root Router
//	    type: router
//	    ...
//
// Entries that fail validation are dropped and reported in the returned error
// list; valid entries still load. The error return is reserved for I/O and
// parse failures that prevent loading anything.
func LoadSupervisors(path string) ([]SupervisorConfig, []error, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read supervisors file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, nil, fmt.Errorf("failed to parse supervisors file %s: %w", path, err)
	}

	var entries []SupervisorConfig
	if err := k.Unmarshal("supervisors", &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal supervisors: %w", err)
	}

	valid, errs := ValidateSupervisors(entries)
	return valid, errs, nil
}

// ValidateSupervisors checks each entry and collects human-readable errors
// for the invalid ones instead of failing on the first. Valid entries are
// returned in their original order.
func ValidateSupervisors(entries []SupervisorConfig) ([]SupervisorConfig, []error) {
	var (
		valid []SupervisorConfig
		errs  []error
	)

	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		if err := validateSupervisor(i, entry, seen); err != nil {
			errs = append(errs, err)
			continue
		}
		seen[entry.ID] = true
		valid = append(valid, entry)
	}

	return valid, errs
}

func validateSupervisor(index int, entry SupervisorConfig, seen map[string]bool) error {
	if entry.ID == "" {
		return fmt.Errorf("supervisor %d: missing required field 'id'", index)
	}
	if entry.Name == "" {
		return fmt.Errorf("supervisor %q: missing required field 'name'", entry.ID)
	}
	switch entry.Type {
	case TypeRouter, TypeCoordinator, TypeSpecialist:
	case "":
		return fmt.Errorf("supervisor %q: missing required field 'type'", entry.ID)
	default:
		return fmt.Errorf("supervisor %q: unknown type %q", entry.ID, entry.Type)
	}
	if seen[entry.ID] {
		return fmt.Errorf("supervisor %q: duplicate id", entry.ID)
	}

	for j, rule := range entry.Rules {
		if rule.ID == "" {
			return fmt.Errorf("supervisor %q: rule %d missing required field 'id'", entry.ID, j)
		}
		if rule.Description == "" {
			return fmt.Errorf("supervisor %q: rule %q missing required field 'description'", entry.ID, rule.ID)
		}
		if rule.Check == "" {
			return fmt.Errorf("supervisor %q: rule %q missing required field 'check'", entry.ID, rule.ID)
		}
	}

	return nil
}
