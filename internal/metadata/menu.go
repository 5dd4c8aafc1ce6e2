// Package metadata builds the navigation menu and the list screen
// descriptors the frontend renders, filtered by the session's capabilities.
package metadata

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/model"
)

// MenuProvider builds a NavigationTree from resource definitions.
type MenuProvider struct {
	registry *definition.Registry
}

// NewMenuProvider creates a MenuProvider backed by the given registry.
func NewMenuProvider(registry *definition.Registry) *MenuProvider {
	return &MenuProvider{registry: registry}
}

// GetMenu returns one node per resource the capability set may view, in
// definition order. Resources with a recycle bin get a child entry for it
// when the set also permits restoring.
func (p *MenuProvider) GetMenu(caps model.CapabilitySet) model.NavigationTree {
	var nodes []model.NavigationNode
	for _, def := range p.registry.AllResources() {
		if !capability.Allows(caps, &def, "view") {
			continue
		}

		node := model.NavigationNode{
			ID:    def.ID,
			Label: def.Title,
			Icon:  def.Icon,
			Route: screenRoute(def.ID, model.ViewActive),
		}
		if def.RecycleBin && capability.Allows(caps, &def, model.ActionRestore) {
			node.Children = []model.NavigationNode{{
				ID:    def.ID + "." + model.ViewRecycleBin,
				Label: "Recycle bin",
				Icon:  "delete",
				Route: screenRoute(def.ID, model.ViewRecycleBin),
			}}
		}
		nodes = append(nodes, node)
	}
	return model.NavigationTree{Items: nodes}
}

func screenRoute(resource, view string) string {
	return "/" + resource + "/" + view
}

// Version identifies the menu caps would see. It changes when definitions
// are reloaded or the capability set changes.
func (p *MenuProvider) Version(caps model.CapabilitySet) string {
	h := fnv.New64a()
	h.Write([]byte(p.registry.Checksum()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(caps.Sorted(), ",")))
	return fmt.Sprintf("%016x", h.Sum64())
}
