package metadata

import (
	"fmt"
	"slices"

	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/model"
)

// ScreenProvider resolves resource definitions into screen descriptors.
type ScreenProvider struct {
	registry        *definition.Registry
	pageSizes       []int
	defaultPageSize int
}

// NewScreenProvider creates a ScreenProvider. pageSizes and defaultPageSize
// apply to resources that do not declare their own.
func NewScreenProvider(registry *definition.Registry, pageSizes []int, defaultPageSize int) *ScreenProvider {
	return &ScreenProvider{
		registry:        registry,
		pageSizes:       pageSizes,
		defaultPageSize: defaultPageSize,
	}
}

// GetScreen returns the descriptor of a resource's list screen. Returns an
// error with code NOT_FOUND or FORBIDDEN.
func (p *ScreenProvider) GetScreen(caps model.CapabilitySet, resource string) (model.ScreenDescriptor, error) {
	def, ok := p.registry.GetResource(resource)
	if !ok {
		return model.ScreenDescriptor{}, model.NewNotFoundError(
			fmt.Sprintf("resource %q not found", resource),
		)
	}
	if !capability.Allows(caps, &def, "view") {
		return model.ScreenDescriptor{}, model.NewForbiddenError(
			fmt.Sprintf("insufficient capabilities for %q", resource),
		)
	}

	desc := model.ScreenDescriptor{
		ID:             def.ID,
		Title:          def.Title,
		SearchFields:   def.SearchFields,
		RecycleBin:     def.RecycleBin,
		RequiredFields: def.RequiredFields,
		ImageFields:    def.ImageFields,
	}
	desc.PageSizes, desc.DefaultPageSize = p.paging(def)

	for _, col := range def.Columns {
		desc.Columns = append(desc.Columns, model.ColumnDescriptor{
			Field:     col.Field,
			Label:     col.Label,
			Type:      col.Type,
			Format:    col.Format,
			StatusMap: col.StatusMap,
		})
	}

	if def.Facet != nil {
		facet := &model.FacetDescriptor{Field: def.Facet.Field, Label: def.Facet.Label}
		for _, opt := range def.Facet.Options {
			facet.Options = append(facet.Options, model.OptionDescriptor{Label: opt.Label, Value: opt.Value})
		}
		desc.Facet = facet
	}
	if def.Status != nil {
		desc.Statuses = def.Status.Values
	}

	desc.Actions = resolveActions(caps, &def)
	return desc, nil
}

func (p *ScreenProvider) paging(def model.ResourceDefinition) ([]int, int) {
	sizes := p.pageSizes
	if len(def.PageSizes) > 0 {
		sizes = def.PageSizes
	}
	if len(sizes) == 0 {
		return nil, p.defaultPageSize
	}
	if slices.Contains(sizes, p.defaultPageSize) {
		return sizes, p.defaultPageSize
	}
	return sizes, sizes[0]
}

var actionLabels = map[string]string{
	model.ActionCreate:          "Add",
	model.ActionUpdate:          "Edit",
	model.ActionStatus:          "Change status",
	model.ActionDelete:          "Delete",
	model.ActionRestore:         "Restore",
	model.ActionPermanentDelete: "Delete permanently",
}

// resolveActions lists the permitted actions of both views. Destructive
// actions carry the confirmation text declared for them, if any.
func resolveActions(caps model.CapabilitySet, def *model.ResourceDefinition) []model.ActionDescriptor {
	out := []model.ActionDescriptor{}
	for _, view := range []string{model.ViewActive, model.ViewRecycleBin} {
		for _, id := range capability.Actions(caps, def, view) {
			a := model.ActionDescriptor{
				ID:    id,
				Label: actionLabels[id],
				Views: []string{view},
			}
			switch id {
			case model.ActionDelete:
				a.Style = "danger"
				a.Confirmation = def.Confirmations.Delete
			case model.ActionRestore:
				a.Confirmation = def.Confirmations.Restore
			case model.ActionPermanentDelete:
				a.Style = "danger"
				a.Confirmation = def.Confirmations.PermanentDelete
			}
			out = append(out, a)
		}
	}
	return out
}
