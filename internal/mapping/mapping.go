package mapping

import (
	"fmt"

	"github.com/joestump/scoremigrate/internal/schema"
)

// TableMapping describes how rows of one legacy table become rows of one
// target table.
type TableMapping struct {
	Source string
	Target string
	// Renames maps legacy column names to target column names.
	Renames map[string]string
	// Refs names the legacy table a target identifier column points into,
	// for columns referencing consolidated users.
	Refs map[string]string
	// Consolidate lists the legacy tables folded into Target together with
	// Source. Rows are built by BuildUser instead of the generic copy.
	Consolidate []string
}

// Sources returns every legacy table feeding the mapping.
func (m TableMapping) Sources() []string {
	return append([]string{m.Source}, m.Consolidate...)
}

// Column returns the target name for a legacy column.
func (m TableMapping) Column(legacy string) string {
	if to, ok := m.Renames[legacy]; ok {
		return to
	}
	return legacy
}

// Origin returns the legacy table a target identifier column refers to, or
// "" when it needs no origin-specific resolution.
func (m TableMapping) Origin(column string) string {
	return m.Refs[column]
}

// Legacy table names.
const (
	LegacyUsers       = "users"
	LegacyJudges      = "judges"
	LegacyContestants = "contestants"
)

var subcategoryToCategory = map[string]string{"subcategory_id": "category_id"}

// Mappings is the full legacy-to-target mapping, one entry per target table.
// Adding a renamed table means adding an entry here, not a new copy routine.
var Mappings = []TableMapping{
	{Source: "contests", Target: "events", Renames: map[string]string{
		"contest_name": "name",
		"location":     "venue",
		"archived":     "is_archived",
	}},
	{
		Source:      LegacyUsers,
		Target:      "users",
		Consolidate: []string{LegacyJudges, LegacyContestants},
	},
	{Source: "categories", Target: "contest_groups", Renames: map[string]string{
		"contest_id": "event_id",
		"sort_order": "display_order",
	}},
	{Source: "subcategories", Target: "categories", Renames: map[string]string{
		"category_id": "contest_group_id",
		"sort_order":  "display_order",
	}},
	{Source: "criteria", Target: "criteria", Renames: map[string]string{
		"subcategory_id": "category_id",
		"sort_order":     "display_order",
	}},
	{
		Source:  "subcategory_contestants",
		Target:  "category_contestants",
		Renames: subcategoryToCategory,
		Refs:    map[string]string{"contestant_id": LegacyContestants},
	},
	{
		Source:  "subcategory_judges",
		Target:  "category_judges",
		Renames: subcategoryToCategory,
		Refs:    map[string]string{"judge_id": LegacyJudges},
	},
	{
		Source:  "scores",
		Target:  "scores",
		Renames: subcategoryToCategory,
		Refs:    map[string]string{"judge_id": LegacyJudges, "contestant_id": LegacyContestants},
	},
	{
		Source:  "judge_certifications",
		Target:  "judge_certifications",
		Renames: map[string]string{"subcategory_id": "category_id", "signature": "signature_name"},
		Refs:    map[string]string{"judge_id": LegacyJudges},
	},
	{
		Source:  "overall_deductions",
		Target:  "deductions",
		Renames: map[string]string{"subcategory_id": "category_id", "comments": "reason"},
		Refs:    map[string]string{"contestant_id": LegacyContestants},
	},
	{Source: "system_settings", Target: "settings"},
}

// Ordered returns the mappings sorted the way the target tables must be
// filled: parents before children. Every mapping must target a declared
// table and every table may be targeted once.
func Ordered(mappings []TableMapping, tables []schema.Table) ([]TableMapping, error) {
	ordered, err := schema.Order(tables)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[string]TableMapping, len(mappings))
	for _, m := range mappings {
		if _, ok := schema.Lookup(tables, m.Target); !ok {
			return nil, fmt.Errorf("mapping %s -> %s: unknown target table", m.Source, m.Target)
		}
		if prev, dup := byTarget[m.Target]; dup {
			return nil, fmt.Errorf("target table %s is mapped twice (%s, %s)", m.Target, prev.Source, m.Source)
		}
		byTarget[m.Target] = m
	}
	out := make([]TableMapping, 0, len(mappings))
	for _, t := range ordered {
		if m, ok := byTarget[t.Name]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Covered reports whether a legacy table feeds any mapping.
func Covered(mappings []TableMapping, legacy string) bool {
	for _, m := range mappings {
		for _, s := range m.Sources() {
			if s == legacy {
				return true
			}
		}
	}
	return false
}
