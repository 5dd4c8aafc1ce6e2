package definition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/console/model"
)

func catalogDefs() []model.ResourceDefinition {
	return []model.ResourceDefinition{
		{ID: "orders", Entity: "order", Title: "Orders", Order: 30, Checksum: "abc123"},
		{ID: "products", Entity: "product", Title: "Products", Order: 10, Checksum: "def456"},
		{ID: "categories", Entity: "category", Title: "Categories", Order: 10, Checksum: "ghi789"},
	}
}

func menuIDs(defs []model.ResourceDefinition) []string {
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

func TestRegistry_GetResource(t *testing.T) {
	r := NewRegistry(catalogDefs())

	d, ok := r.GetResource("orders")
	require.True(t, ok)
	assert.Equal(t, "order", d.Entity)

	_, ok = r.GetResource("suppliers")
	assert.False(t, ok)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_AllResources(t *testing.T) {
	r := NewRegistry(catalogDefs())

	all := r.AllResources()
	assert.Equal(t, []string{"categories", "products", "orders"}, menuIDs(all))

	all[0].Title = "changed"
	d, _ := r.GetResource("categories")
	assert.Equal(t, "Categories", d.Title, "callers get a copy")
}

func TestRegistry_LaterDuplicateWins(t *testing.T) {
	defs := append(catalogDefs(), model.ResourceDefinition{ID: "orders", Title: "Sales orders", Order: 5})
	r := NewRegistry(defs)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"orders", "categories", "products"}, menuIDs(r.AllResources()))
}

func TestRegistry_Checksum(t *testing.T) {
	cs := NewRegistry(catalogDefs()).Checksum()
	require.NotEmpty(t, cs)

	reversed := catalogDefs()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	assert.Equal(t, cs, NewRegistry(reversed).Checksum(), "load order must not matter")

	changed := catalogDefs()
	changed[1].Checksum = "def457"
	assert.NotEqual(t, cs, NewRegistry(changed).Checksum())
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(catalogDefs())
	r.Replace(nil)

	_, ok := r.GetResource("orders")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.AllResources())
}

func TestRegistry_ConcurrentReplace(t *testing.T) {
	r := NewRegistry(catalogDefs())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				r.GetResource("orders")
				r.AllResources()
				r.Checksum()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 10 {
			r.Replace(catalogDefs())
		}
	}()
	wg.Wait()

	assert.Equal(t, 3, r.Len())
}
