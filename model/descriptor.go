package model

import "time"

// NavigationTree is the top-level navigation structure returned to the frontend.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single menu entry pointing at a resource screen.
type NavigationNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Icon     string           `json:"icon,omitempty"`
	Route    string           `json:"route,omitempty"`
	Children []NavigationNode `json:"children,omitempty"`
}

// ScreenDescriptor is the static metadata of a resource's list screen.
type ScreenDescriptor struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Columns         []ColumnDescriptor `json:"columns"`
	Facet           *FacetDescriptor   `json:"facet,omitempty"`
	SearchFields    []string           `json:"search_fields"`
	PageSizes       []int              `json:"page_sizes"`
	DefaultPageSize int                `json:"default_page_size"`
	RecycleBin      bool               `json:"recycle_bin"`
	RequiredFields  []string           `json:"required_fields,omitempty"`
	ImageFields     []string           `json:"image_fields,omitempty"`
	Statuses        []string           `json:"statuses,omitempty"`
	Actions         []ActionDescriptor `json:"actions"`
}

// ColumnDescriptor describes a visible table column.
type ColumnDescriptor struct {
	Field     string            `json:"field"`
	Label     string            `json:"label"`
	Type      string            `json:"type"`
	Format    string            `json:"format,omitempty"`
	StatusMap map[string]string `json:"status_map,omitempty"`
}

// FacetDescriptor describes the discrete filter control.
type FacetDescriptor struct {
	Field   string             `json:"field"`
	Label   string             `json:"label"`
	Options []OptionDescriptor `json:"options"`
}

// OptionDescriptor is a label/value pair.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ActionDescriptor is an action the current user may trigger on the screen.
type ActionDescriptor struct {
	ID           string                  `json:"id"`
	Label        string                  `json:"label"`
	Style        string                  `json:"style,omitempty"`
	Views        []string                `json:"views"`
	Confirmation *ConfirmationDefinition `json:"confirmation,omitempty"`
}

// Action identifiers.
const (
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionRestore         = "restore"
	ActionPermanentDelete = "permanent_delete"
	ActionStatus          = "status"
)

// Screen views.
const (
	ViewActive     = "active"
	ViewRecycleBin = "recycle-bin"
)

// ScreenState is the lifecycle state of one list screen.
type ScreenState string

// Screen states. Loading → Ready ⇄ Mutating; a failed initial fetch ends in
// Error until reload, a failed mutation shows Error until its banner window
// elapses and then returns to Ready.
const (
	ScreenLoading  ScreenState = "loading"
	ScreenReady    ScreenState = "ready"
	ScreenMutating ScreenState = "mutating"
	ScreenError    ScreenState = "error"
)

// FilterState is the free-text query and optional facet of a screen.
type FilterState struct {
	Query   string `json:"query"`
	Facet   string `json:"facet,omitempty"`
	Pending string `json:"pending_query,omitempty"`
}

// PageState is the visible page window.
type PageState struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalPages int  `json:"total_pages"`
	TotalItems int  `json:"total_items"`
	HasPrev    bool `json:"has_prev"`
	HasNext    bool `json:"has_next"`
}

// ConfirmationRequest is the pending destructive action of a screen.
type ConfirmationRequest struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	TargetID string `json:"target_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Confirm  string `json:"confirm"`
	Cancel   string `json:"cancel"`
	Style    string `json:"style,omitempty"`
}

// Status flag states.
const (
	FlagLoading = "loading"
	FlagSuccess = "success"
	FlagError   = "error"
)

// StatusFlag is the transient per-entity indicator of a status update.
type StatusFlag struct {
	State   string    `json:"state"`
	Message string    `json:"message,omitempty"`
	Until   time.Time `json:"until,omitzero"`
}

// Banner is the user-visible message area of a screen.
type Banner struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Until   time.Time `json:"until,omitzero"`
}

// Banner kinds.
const (
	BannerError   = "error"
	BannerSuccess = "success"
)

// Cell is one rendered column value.
type Cell struct {
	Text      string     `json:"text"`
	Value     any        `json:"value,omitempty"`
	Reference *Reference `json:"reference,omitempty"`
}

// Row is one rendered entity.
type Row struct {
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Cells   map[string]Cell `json:"cells"`
	Flag    *StatusFlag     `json:"flag,omitempty"`
}

// ScreenSnapshot is everything the frontend needs to render a list screen.
type ScreenSnapshot struct {
	ScreenID     string               `json:"screen_id"`
	Version      uint64               `json:"version"`
	Resource     string               `json:"resource"`
	View         string               `json:"view"`
	State        ScreenState          `json:"state"`
	Loading      bool                 `json:"loading"`
	Banner       *Banner              `json:"banner,omitempty"`
	Filter       FilterState          `json:"filter"`
	Page         PageState            `json:"page"`
	Rows         []Row                `json:"rows"`
	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
}
