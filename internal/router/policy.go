package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/parleybot/parley/internal/models"
)

// CategoryPolicy controls how one intent category is routed
type CategoryPolicy struct {
	// High is the confidence at or above which the intent executes directly
	High float64 `yaml:"high"`
	// Confirm is the confidence at or above which the user is asked to confirm
	Confirm float64 `yaml:"confirm"`
	// Low is the confidence below which a clarifying question is asked
	// instead of acting on the classification
	Low float64 `yaml:"low"`
	// Cacheable marks replies for this category as safe to cache
	Cacheable bool `yaml:"cacheable"`
	// SideEffecting marks the category as performing external actions
	SideEffecting bool `yaml:"side_effecting"`
	// RateLimit is a limit in ulule format ("5-H" = five per hour); empty
	// means the category is not limited
	RateLimit string `yaml:"rate_limit"`
}

// PolicyTable maps every intent category to its routing policy
type PolicyTable map[models.IntentCategory]CategoryPolicy

// DefaultPolicyTable returns the built-in routing policy. Side-effecting
// categories need higher confidence and carry per-user rate limits;
// conversational categories execute and cache freely.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		models.IntentGenerateImage: {
			High: 0.75, Confirm: 0.60, Low: 0.40,
			Cacheable: false, SideEffecting: true, RateLimit: "5-H",
		},
		models.IntentSubmitFeature: {
			High: 0.85, Confirm: 0.60, Low: 0.40,
			Cacheable: false, SideEffecting: true, RateLimit: "3-H",
		},
		models.IntentGetStatus: {
			High: 0.60, Confirm: 0.60, Low: 0.40,
			Cacheable: true, RateLimit: "30-M",
		},
		models.IntentGetHelp: {
			High: 0.60, Confirm: 0.60, Low: 0.40,
			Cacheable: true, RateLimit: "30-M",
		},
		// Low confidence in casual chat still reads best as casual chat, so
		// general conversation never asks for clarification
		models.IntentGeneralConversation: {
			High: 0.60, Confirm: 0.60, Low: 0,
			Cacheable: true, RateLimit: "30-M",
		},
		models.IntentActionQuery: {
			High: 0.60, Confirm: 0.60, Low: 0.40,
			Cacheable: false, RateLimit: "30-M",
		},
		models.IntentUnclear: {
			High: 1.01, Confirm: 1.01, Low: 1.01,
			Cacheable: false,
		},
	}
}

// LoadPolicyTable reads policy overrides from a YAML file and merges them
// over the defaults. Categories absent from the file keep their built-in
// policy; unknown categories in the file are rejected.
func LoadPolicyTable(path string) (PolicyTable, error) {
	table := DefaultPolicyTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var overrides map[models.IntentCategory]CategoryPolicy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	for category, policy := range overrides {
		if !models.IsKnownIntent(category) {
			return nil, fmt.Errorf("policy file references unknown intent category %q", category)
		}
		if err := validatePolicy(policy); err != nil {
			return nil, fmt.Errorf("invalid policy for %s: %w", category, err)
		}
		table[category] = policy
	}

	return table, nil
}

func validatePolicy(p CategoryPolicy) error {
	if p.Low > p.Confirm || p.Confirm > p.High {
		return fmt.Errorf("thresholds must satisfy low <= confirm <= high (got %.2f/%.2f/%.2f)", p.Low, p.Confirm, p.High)
	}
	return nil
}

// Get returns the policy for a category, falling back to the unclear policy
// for anything unknown.
func (t PolicyTable) Get(category models.IntentCategory) CategoryPolicy {
	if policy, ok := t[category]; ok {
		return policy
	}
	return t[models.IntentUnclear]
}
