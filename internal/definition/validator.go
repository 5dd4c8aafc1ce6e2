package definition

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pitabwire/console/internal/openapi"
	"github.com/pitabwire/console/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally, referentially, and against
// the backend's OpenAPI document.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(defs []model.ResourceDefinition, index *openapi.Index) []VError {
	var errs []VError

	ids := make(map[string]bool, len(defs))
	for i, def := range defs {
		if def.ID != "" && ids[def.ID] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("definitions[%d].id", i),
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("resource %q is defined more than once", def.ID),
			})
		}
		ids[def.ID] = true
	}

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateResource(prefix, def, ids, index)...)
	}
	return errs
}

var validColumnTypes = map[string]bool{
	model.ColumnText: true, model.ColumnNumber: true, model.ColumnMoney: true, model.ColumnDate: true,
	model.ColumnStatus: true, model.ColumnReference: true, model.ColumnImage: true,
}

func (v *Validator) validateResource(prefix string, def model.ResourceDefinition, ids map[string]bool, index *openapi.Index) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Entity == "" {
		errs = append(errs, VError{Path: prefix + ".entity", Code: "REQUIRED", Message: "entity is required"})
	} else if strings.ContainsAny(def.Entity, "/{} ") {
		errs = append(errs, VError{Path: prefix + ".entity", Code: "INVALID", Message: fmt.Sprintf("entity %q must be a single path segment", def.Entity)})
	}
	if def.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if len(def.Columns) == 0 {
		errs = append(errs, VError{Path: prefix + ".columns", Code: "REQUIRED", Message: "at least one column is required"})
	}

	for i, c := range def.Columns {
		cp := fmt.Sprintf("%s.columns[%d]", prefix, i)
		errs = append(errs, v.validateColumn(cp, c, ids)...)
	}

	for i, size := range def.PageSizes {
		if size < 1 || size > 200 {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.page_sizes[%d]", prefix, i), Code: "RANGE", Message: "page size must be 1-200"})
		}
	}

	if def.Facet != nil {
		if def.Facet.Field == "" {
			errs = append(errs, VError{Path: prefix + ".facet.field", Code: "REQUIRED", Message: "facet.field is required"})
		}
		if len(def.Facet.Options) == 0 {
			errs = append(errs, VError{Path: prefix + ".facet.options", Code: "REQUIRED", Message: "at least one facet option is required"})
		}
	}

	if def.Status != nil {
		if def.Status.Field == "" {
			errs = append(errs, VError{Path: prefix + ".status.field", Code: "REQUIRED", Message: "status.field is required"})
		}
		if len(def.Status.Values) == 0 {
			errs = append(errs, VError{Path: prefix + ".status.values", Code: "REQUIRED", Message: "at least one status value is required"})
		}
	}

	for i, f := range def.ImageFields {
		if f == def.EffectiveIDField() {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.image_fields[%d]", prefix, i), Code: "INVALID", Message: "the id field cannot carry an upload"})
		}
	}

	// Capability namespaces must match the resource ID.
	if def.ID != "" {
		caps := def.Capabilities
		for _, list := range [][]string{caps.View, caps.Create, caps.Update, caps.Delete, caps.Restore} {
			for _, c := range list {
				if !strings.HasPrefix(c, def.ID+":") && c != "*" {
					errs = append(errs, VError{
						Path:    prefix + ".capabilities",
						Code:    "NAMESPACE_MISMATCH",
						Message: fmt.Sprintf("capability %q does not match resource %q", c, def.ID),
					})
				}
			}
		}
	}

	if index != nil && def.Entity != "" {
		errs = append(errs, v.validateEndpoints(prefix+".endpoints", def, index)...)
	}

	return errs
}

func (v *Validator) validateColumn(prefix string, c model.ColumnDefinition, ids map[string]bool) []VError {
	var errs []VError

	if c.Field == "" {
		errs = append(errs, VError{Path: prefix + ".field", Code: "REQUIRED", Message: "field is required"})
	}
	if c.Type != "" && !validColumnTypes[c.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid column type %q", c.Type)})
	}
	if c.Type == model.ColumnReference {
		switch {
		case c.Reference == nil || c.Reference.Resource == "":
			errs = append(errs, VError{Path: prefix + ".reference.resource", Code: "REQUIRED", Message: "reference.resource is required for reference columns"})
		case !ids[c.Reference.Resource]:
			errs = append(errs, VError{
				Path:    prefix + ".reference.resource",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("resource %q not found", c.Reference.Resource),
			})
		}
	}

	return errs
}

type endpointCheck struct {
	name   string
	method string
	path   string
}

func (v *Validator) validateEndpoints(prefix string, def model.ResourceDefinition, index *openapi.Index) []VError {
	ep := def.Endpoints.Resolved(def.Entity)
	checks := []endpointCheck{
		{"list", http.MethodGet, ep.List},
		{"get", http.MethodGet, ep.Get},
		{"create", http.MethodPost, ep.Create},
		{"update", http.MethodPut, ep.Update},
		{"delete", http.MethodDelete, ep.Delete},
	}
	if def.RecycleBin {
		checks = append(checks,
			endpointCheck{"list_with_deleted", http.MethodGet, ep.ListWithDeleted},
			endpointCheck{"restore", http.MethodPost, ep.Restore},
			endpointCheck{"permanent_delete", http.MethodDelete, ep.PermanentDelete},
		)
	}
	if def.Status != nil && def.Status.Endpoint != "" {
		checks = append(checks, endpointCheck{"status", http.MethodPut, def.Status.Endpoint})
	}

	var errs []VError
	for _, c := range checks {
		if !index.HasOperation(c.method, c.path) {
			errs = append(errs, VError{
				Path:    prefix + "." + c.name,
				Code:    "ENDPOINT_NOT_FOUND",
				Message: fmt.Sprintf("%s %s not found in backend OpenAPI document", c.method, c.path),
			})
		}
	}
	return errs
}

// InheritRequiredFields fills RequiredFields of definitions that declare
// none with the required properties of the backend's create operation.
func InheritRequiredFields(defs []model.ResourceDefinition, index *openapi.Index) {
	if index == nil {
		return
	}
	for i := range defs {
		if len(defs[i].RequiredFields) > 0 || defs[i].Entity == "" {
			continue
		}
		ep := defs[i].Endpoints.Resolved(defs[i].Entity)
		defs[i].RequiredFields = index.RequiredFields(http.MethodPost, ep.Create)
	}
}

// IsEndpointError reports whether e only concerns the backend document.
func IsEndpointError(e VError) bool {
	return e.Code == "ENDPOINT_NOT_FOUND"
}
