package capability

import "github.com/pitabwire/console/model"

// Required returns the capabilities an action on def needs. Status updates
// count as updates and purges as deletes.
func Required(def *model.ResourceDefinition, action string) []string {
	c := def.Capabilities
	switch action {
	case model.ActionCreate:
		return c.Create
	case model.ActionUpdate, model.ActionStatus:
		return c.Update
	case model.ActionDelete, model.ActionPermanentDelete:
		return c.Delete
	case model.ActionRestore:
		return c.Restore
	default:
		return c.View
	}
}

// Allows reports whether caps permit action on def. Every action also needs
// the view capabilities.
func Allows(caps model.CapabilitySet, def *model.ResourceDefinition, action string) bool {
	if !caps.HasAll(def.Capabilities.View...) {
		return false
	}
	return caps.HasAll(Required(def, action)...)
}

// Actions returns the actions caps permit on def in the given view.
func Actions(caps model.CapabilitySet, def *model.ResourceDefinition, view string) []string {
	var candidates []string
	switch view {
	case model.ViewRecycleBin:
		if !def.RecycleBin {
			return nil
		}
		candidates = []string{model.ActionRestore, model.ActionPermanentDelete}
	default:
		candidates = []string{model.ActionCreate, model.ActionUpdate, model.ActionDelete}
		if def.Status != nil {
			candidates = append(candidates, model.ActionStatus)
		}
	}

	out := make([]string, 0, len(candidates))
	for _, a := range candidates {
		if Allows(caps, def, a) {
			out = append(out, a)
		}
	}
	return out
}
