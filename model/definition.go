package model

import "strings"

// ResourceDefinition is the root structure of a definition file. Each file
// declares one entity type the console manages: how to reach it on the
// backend, how its list screen searches, filters and renders it, and which
// actions it offers.
type ResourceDefinition struct {
	ID             string                  `yaml:"id"               json:"id"`
	Entity         string                  `yaml:"entity"           json:"entity"`
	Title          string                  `yaml:"title"            json:"title"`
	Icon           string                  `yaml:"icon"             json:"icon,omitempty"`
	Order          int                     `yaml:"order"            json:"order"`
	IDField        string                  `yaml:"id_field"         json:"id_field,omitempty"`
	LabelField     string                  `yaml:"label_field"      json:"label_field,omitempty"`
	DeletedAtField string                  `yaml:"deleted_at_field" json:"deleted_at_field,omitempty"`
	SearchFields   []string                `yaml:"search_fields"    json:"search_fields"`
	Facet          *FacetDefinition        `yaml:"facet"            json:"facet,omitempty"`
	Columns        []ColumnDefinition      `yaml:"columns"          json:"columns"`
	RequiredFields []string                `yaml:"required_fields"  json:"required_fields,omitempty"`
	ImageFields    []string                `yaml:"image_fields"     json:"image_fields,omitempty"`
	RecycleBin     bool                    `yaml:"recycle_bin"      json:"recycle_bin"`
	Status         *StatusDefinition       `yaml:"status"           json:"status,omitempty"`
	PageSizes      []int                   `yaml:"page_sizes"       json:"page_sizes,omitempty"`
	Confirmations  ConfirmationDefinitions `yaml:"confirmations"    json:"confirmations"`
	Capabilities   ActionCapabilities      `yaml:"capabilities"     json:"capabilities"`
	Endpoints      EndpointDefinition      `yaml:"endpoints"        json:"endpoints"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// FacetDefinition describes the discrete filter applied next to free-text
// search, e.g. order status.
type FacetDefinition struct {
	Field   string         `yaml:"field"   json:"field"`
	Label   string         `yaml:"label"   json:"label"`
	Options []StaticOption `yaml:"options" json:"options"`
}

// StaticOption is a label/value pair for dropdowns and facets.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// ColumnDefinition describes a table column.
type ColumnDefinition struct {
	Field     string            `yaml:"field"     json:"field"`
	Label     string            `yaml:"label"     json:"label"`
	Type      string            `yaml:"type"      json:"type"`
	Format    string            `yaml:"format"    json:"format,omitempty"`
	Reference *ReferenceBinding `yaml:"reference" json:"reference,omitempty"`
	StatusMap map[string]string `yaml:"status_map" json:"status_map,omitempty"`
}

// Column types.
const (
	ColumnText      = "text"
	ColumnNumber    = "number"
	ColumnMoney     = "money"
	ColumnDate      = "date"
	ColumnStatus    = "status"
	ColumnReference = "reference"
	ColumnImage     = "image"
)

// ReferenceBinding points a column at another resource whose label should be
// displayed instead of the raw foreign id.
type ReferenceBinding struct {
	Resource   string `yaml:"resource"    json:"resource"`
	LabelField string `yaml:"label_field" json:"label_field,omitempty"`
}

// StatusDefinition describes the status transitions a resource supports,
// e.g. pending → shipped → delivered for orders.
type StatusDefinition struct {
	Field    string   `yaml:"field"    json:"field"`
	Values   []string `yaml:"values"   json:"values"`
	Endpoint string   `yaml:"endpoint" json:"endpoint,omitempty"`
}

// Allows reports whether value is one of the permitted statuses.
func (s *StatusDefinition) Allows(value string) bool {
	for _, v := range s.Values {
		if v == value {
			return true
		}
	}
	return false
}

// ConfirmationDefinitions holds the dialog texts per destructive action.
type ConfirmationDefinitions struct {
	Delete          *ConfirmationDefinition `yaml:"delete"           json:"delete,omitempty"`
	Restore         *ConfirmationDefinition `yaml:"restore"          json:"restore,omitempty"`
	PermanentDelete *ConfirmationDefinition `yaml:"permanent_delete" json:"permanent_delete,omitempty"`
}

// ConfirmationDefinition describes a confirmation dialog.
type ConfirmationDefinition struct {
	Title   string `yaml:"title"   json:"title"`
	Message string `yaml:"message" json:"message"`
	Confirm string `yaml:"confirm" json:"confirm"`
	Cancel  string `yaml:"cancel"  json:"cancel,omitempty"`
	Style   string `yaml:"style"   json:"style,omitempty"`
}

// ActionCapabilities lists the capabilities required per action. An empty
// list means the action is open to every signed-in user.
type ActionCapabilities struct {
	View    []string `yaml:"view"    json:"view,omitempty"`
	Create  []string `yaml:"create"  json:"create,omitempty"`
	Update  []string `yaml:"update"  json:"update,omitempty"`
	Delete  []string `yaml:"delete"  json:"delete,omitempty"`
	Restore []string `yaml:"restore" json:"restore,omitempty"`
}

// EndpointDefinition overrides individual REST paths. Empty fields fall back
// to the standard "/{entity}/..." layout.
type EndpointDefinition struct {
	List            string `yaml:"list"             json:"list,omitempty"`
	Get             string `yaml:"get"              json:"get,omitempty"`
	Create          string `yaml:"create"           json:"create,omitempty"`
	Update          string `yaml:"update"           json:"update,omitempty"`
	Delete          string `yaml:"delete"           json:"delete,omitempty"`
	ListWithDeleted string `yaml:"list_with_deleted" json:"list_with_deleted,omitempty"`
	Restore         string `yaml:"restore"          json:"restore,omitempty"`
	PermanentDelete string `yaml:"permanent_delete" json:"permanent_delete,omitempty"`
}

// Resolved returns the endpoint set with defaults filled in for entity.
// Paths may contain "{id}", substituted at call time.
func (e EndpointDefinition) Resolved(entity string) EndpointDefinition {
	def := func(v, tmpl string) string {
		if v != "" {
			return v
		}
		return strings.ReplaceAll(tmpl, "{entity}", entity)
	}
	return EndpointDefinition{
		List:            def(e.List, "/{entity}/all-{entity}"),
		Get:             def(e.Get, "/{entity}/{id}"),
		Create:          def(e.Create, "/{entity}/add-{entity}"),
		Update:          def(e.Update, "/{entity}/update-{entity}/{id}"),
		Delete:          def(e.Delete, "/{entity}/delete-{entity}/{id}"),
		ListWithDeleted: def(e.ListWithDeleted, "/{entity}/all-{entity}/with-deleted"),
		Restore:         def(e.Restore, "/{entity}/restore-{entity}/{id}"),
		PermanentDelete: def(e.PermanentDelete, "/{entity}/permanently-delete-{entity}/{id}"),
	}
}

// EffectiveIDField returns the configured id field or the default.
func (r ResourceDefinition) EffectiveIDField() string {
	if r.IDField != "" {
		return r.IDField
	}
	return DefaultIDField
}

// EffectiveDeletedAtField returns the configured soft-delete field or the default.
func (r ResourceDefinition) EffectiveDeletedAtField() string {
	if r.DeletedAtField != "" {
		return r.DeletedAtField
	}
	return DefaultDeletedAtField
}

// EffectiveLabelField returns the field used as the human label of a record.
func (r ResourceDefinition) EffectiveLabelField() string {
	if r.LabelField != "" {
		return r.LabelField
	}
	return "name"
}

// IsImageField reports whether field carries an uploaded image.
func (r ResourceDefinition) IsImageField(field string) bool {
	for _, f := range r.ImageFields {
		if f == field {
			return true
		}
	}
	return false
}
