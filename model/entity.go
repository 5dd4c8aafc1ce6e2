package model

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// Entity is one record as returned by the backend. Field names and shapes are
// owned by the backend; the console only relies on the id field and the
// soft-delete marker.
type Entity map[string]any

// Default field names used by the backend contract.
const (
	DefaultIDField        = "id"
	DefaultDeletedAtField = "deletedAt"
)

// ID returns the entity's identifier as a string. When idField is the
// default "id" and absent, "_id" is tried as well.
func (e Entity) ID(idField string) string {
	if idField == "" {
		idField = DefaultIDField
	}
	if v, ok := e[idField]; ok && v != nil {
		return FormatValue(v)
	}
	if idField == DefaultIDField {
		if v, ok := e["_id"]; ok && v != nil {
			return FormatValue(v)
		}
	}
	return ""
}

// DeletedAt returns the soft-delete timestamp. The second result is false when
// the marker is null or one of the zero sentinels the backend uses for
// active records.
func (e Entity) DeletedAt(field string) (time.Time, bool) {
	if field == "" {
		field = DefaultDeletedAtField
	}
	raw, ok := e[field]
	if !ok || raw == nil {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "0" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				if t.IsZero() || t.Unix() <= 0 {
					return time.Time{}, false
				}
				return t, true
			}
		}
		// Unparseable but non-empty: treat as deleted with an unknown time.
		return time.Time{}, true
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case bool:
		return time.Time{}, v
	default:
		return time.Time{}, true
	}
}

// IsDeleted reports whether the entity carries a non-zero soft-delete marker.
func (e Entity) IsDeleted(field string) bool {
	_, deleted := e.DeletedAt(field)
	return deleted
}

// Text returns the display text for a field, or "" when missing.
func (e Entity) Text(field string) string {
	v, ok := e[field]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Clone returns a shallow copy of the entity.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	return maps.Clone(e)
}

// FormatValue renders a decoded JSON value as text. Whole numbers are printed
// without a fractional part so numeric ids round-trip as "42", not "42.0".
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, key := range []string{"name", "title", "label"} {
			if s, ok := t[key].(string); ok {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}
