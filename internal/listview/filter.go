package listview

import (
	"strings"

	"github.com/pitabwire/console/model"
)

// Filter is an applied search: free text over the searchable fields plus an
// optional facet value.
type Filter struct {
	Query string
	Facet string
}

// Empty reports whether the filter lets everything through.
func (f Filter) Empty() bool {
	return strings.TrimSpace(f.Query) == "" && f.Facet == ""
}

// Apply returns the entities matching f, in their original order.
func Apply(items []model.Entity, def *model.ResourceDefinition, f Filter) []model.Entity {
	if f.Empty() {
		return append([]model.Entity(nil), items...)
	}
	out := make([]model.Entity, 0, len(items))
	for _, e := range items {
		if Matches(e, def, f) {
			out = append(out, e)
		}
	}
	return out
}

// Matches reports whether e passes f. The query matches case-insensitively
// as a substring of any searchable field; the facet must equal the facet
// field's value, ignoring case.
func Matches(e model.Entity, def *model.ResourceDefinition, f Filter) bool {
	if f.Facet != "" && def.Facet != nil {
		if !strings.EqualFold(e.Text(def.Facet.Field), f.Facet) {
			return false
		}
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	for _, field := range def.SearchFields {
		if strings.Contains(strings.ToLower(e.Text(field)), q) {
			return true
		}
	}
	return false
}
