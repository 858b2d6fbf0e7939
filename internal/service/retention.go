package service

import (
	"github.com/complygate/complygate/internal/model"
)

// PolicyTable maps category keys to their configured retention rules.
type PolicyTable map[string]model.RetentionRule

// NewPolicyTable indexes the configured rules by category key.
func NewPolicyTable(rules []model.RetentionRule) PolicyTable {
	table := make(PolicyTable, len(rules))
	for _, rule := range rules {
		table[rule.Category] = rule
	}
	return table
}

// EvaluateRetention classifies each category against the policy table. It
// is a pure function: categories with no rule yield no exception, and
// nothing is mutated or persisted here.
func EvaluateRetention(categories []model.DataCategory, table PolicyTable) []model.RetentionException {
	exceptions := []model.RetentionException{}
	for _, cat := range categories {
		rule, ok := table[cat.Key]
		if !ok {
			continue
		}
		exceptions = append(exceptions, model.RetentionException{
			CategoryKey:   cat.Key,
			RetainedCount: cat.RecordCount,
			LegalReason:   rule.LegalReason,
		})
	}
	return exceptions
}
