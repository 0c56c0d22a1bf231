package query

import (
	"maps"
	"slices"
)

// Update describes a mutation. Inc and SetOnInsert take precedence over Set
// for the same field once normalized by the Augmenter; SetOnInsert applies
// only when an upsert inserts.
type Update struct {
	Set         map[string]any
	Inc         map[string]int64
	SetOnInsert map[string]any
	Unset       []string
}

// SetFields builds an Update that sets every entry of fields.
func SetFields(fields map[string]any) Update {
	return Update{Set: maps.Clone(fields)}
}

// Clone returns a deep copy of the clause maps.
func (u Update) Clone() Update {
	return Update{
		Set:         maps.Clone(u.Set),
		Inc:         maps.Clone(u.Inc),
		SetOnInsert: maps.Clone(u.SetOnInsert),
		Unset:       slices.Clone(u.Unset),
	}
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return len(u.Set) == 0 && len(u.Inc) == 0 && len(u.SetOnInsert) == 0 && len(u.Unset) == 0
}

// UpdateOptions control a single find-and-update.
type UpdateOptions struct {
	// Upsert inserts a new record seeded from the filter's equality clauses
	// when nothing matches.
	Upsert bool
}
