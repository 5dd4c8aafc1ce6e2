package model

import "strings"

// Submission is the payload of a create or update: plain fields plus any
// uploaded files for image-bearing resources.
type Submission struct {
	Fields map[string]any `json:"fields"`
	Files  []FileUpload   `json:"-"`
}

// FileUpload is one uploaded file destined for a multipart field.
type FileUpload struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// HasFiles reports whether the submission must be sent as multipart.
func (s Submission) HasFiles() bool {
	return len(s.Files) > 0
}

// MissingFields returns the required fields that are absent or blank. A
// required field satisfied by an uploaded file counts as present.
func (s Submission) MissingFields(required []string) []FieldError {
	var errs []FieldError
	for _, f := range required {
		if s.present(f) {
			continue
		}
		errs = append(errs, FieldError{
			Field:   f,
			Code:    "REQUIRED",
			Message: f + " is required",
		})
	}
	return errs
}

func (s Submission) present(field string) bool {
	for _, file := range s.Files {
		if file.Field == field && len(file.Data) > 0 {
			return true
		}
	}
	v, ok := s.Fields[field]
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr {
		return strings.TrimSpace(str) != ""
	}
	return true
}
