package model

// Reference is a foreign-key value that is either still an id waiting for a
// label (Unresolved) or already carries one (Resolved).
type Reference struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Unresolved returns a reference that only knows the foreign id.
func Unresolved(id string) Reference {
	return Reference{ID: id}
}

// Resolved returns a reference with a display label.
func Resolved(id, label string) Reference {
	return Reference{ID: id, Label: label, Resolved: true}
}

// ParseReference interprets a raw field value. A map with a non-empty label
// field is Resolved; a bare id, or a map carrying only an id, is Unresolved.
// The second result is false for empty values.
func ParseReference(raw any, labelField string) (Reference, bool) {
	if labelField == "" {
		labelField = "name"
	}
	switch v := raw.(type) {
	case nil:
		return Reference{}, false
	case map[string]any:
		id := Entity(v).ID(DefaultIDField)
		label, _ := v[labelField].(string)
		if label != "" {
			return Resolved(id, label), true
		}
		if id == "" {
			return Reference{}, false
		}
		return Unresolved(id), true
	default:
		id := FormatValue(v)
		if id == "" {
			return Reference{}, false
		}
		return Unresolved(id), true
	}
}

// OptionList is the picker payload of a reference field.
type OptionList struct {
	Options []OptionDescriptor `json:"options"`
	Cached  bool               `json:"cached"`
}
