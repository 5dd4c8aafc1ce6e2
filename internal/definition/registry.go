package definition

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	"github.com/pitabwire/console/model"
)

// catalog is one immutable generation of loaded definitions.
type catalog struct {
	byID     map[string]model.ResourceDefinition
	menu     []model.ResourceDefinition // sorted by Order, then ID
	checksum string
}

// Registry serves the current definitions. Readers never block; Replace
// publishes a new generation that screens mounted afterwards will see.
type Registry struct {
	gen atomic.Pointer[catalog]
}

func NewRegistry(defs []model.ResourceDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace publishes defs as the new generation. A later definition with an
// id already seen wins.
func (r *Registry) Replace(defs []model.ResourceDefinition) {
	c := &catalog{byID: make(map[string]model.ResourceDefinition, len(defs))}
	for _, def := range defs {
		c.byID[def.ID] = def
	}

	sums := make([]string, 0, len(c.byID))
	c.menu = make([]model.ResourceDefinition, 0, len(c.byID))
	for _, def := range c.byID {
		c.menu = append(c.menu, def)
		sums = append(sums, def.Checksum)
	}
	slices.SortFunc(c.menu, func(a, b model.ResourceDefinition) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	// The combined checksum ignores load order.
	slices.Sort(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{':'})
	}
	c.checksum = hex.EncodeToString(h.Sum(nil))

	r.gen.Store(c)
}

// GetResource returns the definition with id.
func (r *Registry) GetResource(id string) (model.ResourceDefinition, bool) {
	def, ok := r.gen.Load().byID[id]
	return def, ok
}

// AllResources returns a copy of every definition in menu order.
func (r *Registry) AllResources() []model.ResourceDefinition {
	return slices.Clone(r.gen.Load().menu)
}

func (r *Registry) Len() int {
	return len(r.gen.Load().byID)
}

// Checksum identifies the loaded generation; it is logged on reload.
func (r *Registry) Checksum() string {
	return r.gen.Load().checksum
}
