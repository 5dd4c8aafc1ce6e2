package reference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/model"
)

func testCache() *Cache {
	return NewCache(config.ReferenceConfig{
		Placeholder:  "Loading…",
		UnknownLabel: "Unknown",
		MaxEntries:   100,
	}, nil)
}

var testSession = &model.SessionContext{SessionID: "s1", Token: "t"}

// stubLoader serves labels from a map and counts calls per id.
type stubLoader struct {
	mu     sync.Mutex
	labels map[string]string
	calls  map[string]int
	block  chan struct{}
}

func newStubLoader(labels map[string]string) *stubLoader {
	return &stubLoader{labels: labels, calls: map[string]int{}}
}

func (s *stubLoader) LoadLabel(ctx context.Context, _ *model.SessionContext, _, id string) (string, error) {
	s.mu.Lock()
	s.calls[id]++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if label, ok := s.labels[id]; ok {
		return label, nil
	}
	return "", errors.New("not found")
}

func (s *stubLoader) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// --- Cache ---

func TestCache_missIsPlaceholder(t *testing.T) {
	c := testCache()
	text, state := c.Text("categories", "c1")
	assert.Equal(t, "Loading…", text)
	assert.Equal(t, Missing, state)
}

func TestCache_putAndFail(t *testing.T) {
	c := testCache()
	c.Put("categories", "c1", "Shoes")
	c.Fail("categories", "c2")

	text, state := c.Text("categories", "c1")
	assert.Equal(t, "Shoes", text)
	assert.Equal(t, Known, state)

	text, state = c.Text("categories", "c2")
	assert.Equal(t, "Unknown", text)
	assert.Equal(t, Failed, state)
}

func TestCache_keysAreScopedByResource(t *testing.T) {
	c := testCache()
	c.Put("categories", "1", "Shoes")
	_, state := c.Text("customers", "1")
	assert.Equal(t, Missing, state)
}

func TestCache_capacityDropsNewEntries(t *testing.T) {
	c := NewCache(config.ReferenceConfig{MaxEntries: 2}, nil)
	c.Put("r", "1", "a")
	c.Put("r", "2", "b")
	c.Put("r", "3", "c")
	assert.Equal(t, 2, c.Len())

	c.Put("r", "1", "a2")
	text, _ := c.Text("r", "1")
	assert.Equal(t, "a2", text, "existing entries stay writable when full")
}

func TestCache_defaults(t *testing.T) {
	c := NewCache(config.ReferenceConfig{}, nil)
	assert.Equal(t, "Loading…", c.Placeholder())
	c.Fail("r", "x")
	text, _ := c.Text("r", "x")
	assert.Equal(t, "Unknown", text)
}

// --- Resolver ---

func TestResolver_Text_resolvedSeedsCache(t *testing.T) {
	loader := newStubLoader(nil)
	r := NewResolver(testCache(), loader, time.Second, nil)

	text := r.Text(context.Background(), testSession, "categories", model.Resolved("c1", "Shoes"), nil)
	assert.Equal(t, "Shoes", text)

	text = r.Text(context.Background(), testSession, "categories", model.Unresolved("c1"), nil)
	assert.Equal(t, "Shoes", text)
	assert.Zero(t, loader.callCount("c1"), "embedded label must avoid a fetch")
}

func TestResolver_Text_unresolvedFetchesInBackground(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	r := NewResolver(testCache(), loader, time.Second, nil)

	var settled atomic.Int32
	text := r.Text(context.Background(), testSession, "categories", model.Unresolved("c1"), func() { settled.Add(1) })
	assert.Equal(t, "Loading…", text)

	r.Wait()
	assert.Equal(t, int32(1), settled.Load())

	text = r.Text(context.Background(), testSession, "categories", model.Unresolved("c1"), nil)
	assert.Equal(t, "Shoes", text)
	assert.Equal(t, 1, loader.callCount("c1"))
}

func TestResolver_Text_failurePinsUnknown(t *testing.T) {
	loader := newStubLoader(map[string]string{})
	r := NewResolver(testCache(), loader, time.Second, nil)

	r.Text(context.Background(), testSession, "categories", model.Unresolved("gone"), nil)
	r.Wait()

	for i := 0; i < 3; i++ {
		text := r.Text(context.Background(), testSession, "categories", model.Unresolved("gone"), nil)
		assert.Equal(t, "Unknown", text)
	}
	r.Wait()
	assert.Equal(t, 1, loader.callCount("gone"), "failed ids are never refetched in the session")
}

func TestResolver_Text_pendingDoesNotRefetch(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	loader.block = make(chan struct{})
	r := NewResolver(testCache(), loader, time.Second, nil)

	for i := 0; i < 5; i++ {
		text := r.Text(context.Background(), testSession, "categories", model.Unresolved("c1"), nil)
		assert.Equal(t, "Loading…", text)
	}
	close(loader.block)
	r.Wait()
	assert.Equal(t, 1, loader.callCount("c1"))
}

func TestResolver_Text_cancelledOwnerLeavesIDUnresolved(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	loader.block = make(chan struct{})
	r := NewResolver(testCache(), loader, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var settled atomic.Int32
	r.Text(ctx, testSession, "categories", model.Unresolved("c1"), func() { settled.Add(1) })
	cancel()
	r.Wait()

	assert.Zero(t, settled.Load(), "no callback after the owner is gone")
	_, state := r.Cache().Text("categories", "c1")
	assert.Equal(t, Missing, state, "cancelled fetch must not pin Unknown")
}

func TestResolver_Resolve(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	r := NewResolver(testCache(), loader, time.Second, nil)

	label, err := r.Resolve(context.Background(), testSession, "categories", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Shoes", label)

	label, err = r.Resolve(context.Background(), testSession, "categories", "missing")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", label)

	r.Resolve(context.Background(), testSession, "categories", "c1")
	assert.Equal(t, 1, loader.callCount("c1"))
}

func TestResolver_Resolve_concurrentCallsCollapse(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	loader.block = make(chan struct{})
	r := NewResolver(testCache(), loader, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label, err := r.Resolve(context.Background(), testSession, "categories", "c1")
			assert.NoError(t, err)
			assert.Equal(t, "Shoes", label)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.block)
	wg.Wait()
	assert.Equal(t, 1, loader.callCount("c1"))
}

func TestResolver_fetchTimeoutPinsUnknown(t *testing.T) {
	loader := newStubLoader(map[string]string{"c1": "Shoes"})
	loader.block = make(chan struct{})
	defer close(loader.block)
	r := NewResolver(testCache(), loader, 10*time.Millisecond, nil)

	label, err := r.Resolve(context.Background(), testSession, "categories", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", label)
}

// --- Adapter ---

func productDef() *model.ResourceDefinition {
	return &model.ResourceDefinition{
		ID:     "products",
		Entity: "product",
		Columns: []model.ColumnDefinition{
			{Field: "name", Type: model.ColumnText},
			{Field: "price", Type: model.ColumnMoney, Format: "USD"},
			{Field: "createdAt", Type: model.ColumnDate},
			{Field: "status", Type: model.ColumnStatus, StatusMap: map[string]string{"draft": "Draft"}},
			{Field: "category", Type: model.ColumnReference, Reference: &model.ReferenceBinding{Resource: "categories"}},
		},
	}
}

func TestAdapter_Row(t *testing.T) {
	loader := newStubLoader(map[string]string{"c2": "Hats"})
	r := NewResolver(testCache(), loader, time.Second, nil)
	a := NewAdapter(productDef(), r)

	row := a.Row(context.Background(), testSession, model.Entity{
		"id":        float64(7),
		"name":      "Red Shirt",
		"price":     float64(19.5),
		"createdAt": "2026-03-04T10:00:00Z",
		"status":    "draft",
		"category":  map[string]any{"id": "c1", "name": "Shirts"},
		"deletedAt": nil,
	}, nil)

	assert.Equal(t, "7", row.ID)
	assert.False(t, row.Deleted)
	assert.Equal(t, "Red Shirt", row.Cells["name"].Text)
	assert.Equal(t, "$19.50", row.Cells["price"].Text)
	assert.Equal(t, "2026-03-04", row.Cells["createdAt"].Text)
	assert.Equal(t, "Draft", row.Cells["status"].Text)
	assert.Equal(t, "Shirts", row.Cells["category"].Text)
	require.NotNil(t, row.Cells["category"].Reference)
	assert.True(t, row.Cells["category"].Reference.Resolved)
}

func TestAdapter_Rows_unresolvedReferenceSettles(t *testing.T) {
	loader := newStubLoader(map[string]string{"c2": "Hats"})
	r := NewResolver(testCache(), loader, time.Second, nil)
	a := NewAdapter(productDef(), r)
	entities := []model.Entity{
		{"id": "p1", "category": "c2"},
		{"id": "p2", "category": "c2"},
		{"id": "p3", "category": "c404", "deletedAt": "2026-01-01T00:00:00Z"},
	}

	var settled atomic.Int32
	rows := a.Rows(context.Background(), testSession, entities, func() { settled.Add(1) })
	require.Len(t, rows, 3)
	assert.Equal(t, "Loading…", rows[0].Cells["category"].Text)
	assert.Equal(t, "Loading…", rows[1].Cells["category"].Text)
	assert.True(t, rows[2].Deleted)

	r.Wait()
	assert.Equal(t, int32(2), settled.Load(), "one fetch per distinct id")

	rows = a.Rows(context.Background(), testSession, entities, nil)
	assert.Equal(t, "Hats", rows[0].Cells["category"].Text)
	assert.Equal(t, "Hats", rows[1].Cells["category"].Text)
	assert.Equal(t, "Unknown", rows[2].Cells["category"].Text)
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		raw      any
		currency string
		want     string
	}{
		{float64(10), "", "10.00"},
		{float64(3.456), "EUR", "€3.46"},
		{"12.5", "KES", "KES 12.50"},
		{"abc", "USD", "abc"},
		{nil, "USD", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatMoney(tt.raw, tt.currency))
	}
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "2026-03-04 10:30", formatDate("2026-03-04T10:30:00Z", "datetime"))
	assert.Equal(t, "04/03/2026", formatDate("2026-03-04", "02/01/2006"))
	assert.Equal(t, "soon", formatDate("soon", ""))
}

type stubOptions struct {
	calls   atomic.Int32
	options []model.OptionDescriptor
	err     error
}

func (s *stubOptions) ListOptions(context.Context, *model.SessionContext, string) ([]model.OptionDescriptor, error) {
	s.calls.Add(1)
	return s.options, s.err
}

func TestOptions_CachesAndFilters(t *testing.T) {
	src := &stubOptions{options: []model.OptionDescriptor{
		{Value: "cat-1", Label: "Shirts"},
		{Value: "cat-2", Label: "Shoes"},
		{Value: "cat-3", Label: "Hats"},
	}}
	o := NewOptions(src, time.Minute, 10)

	all, cached, err := o.List(context.Background(), testSession, "categories", "")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, all, 3)

	sh, cached, err := o.List(context.Background(), testSession, "categories", "  SH ")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []model.OptionDescriptor{{Value: "cat-1", Label: "Shirts"}, {Value: "cat-2", Label: "Shoes"}}, sh)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestOptions_ExpiryAndInvalidate(t *testing.T) {
	src := &stubOptions{options: []model.OptionDescriptor{{Value: "cat-1", Label: "Shirts"}}}
	o := NewOptions(src, 30*time.Millisecond, 10)
	ctx := context.Background()

	_, _, err := o.List(ctx, testSession, "categories", "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, cached, err := o.List(ctx, testSession, "categories", "")
	require.NoError(t, err)
	assert.False(t, cached, "expired list must be refetched")

	o.Invalidate("categories")
	assert.Equal(t, 0, o.Len())
	_, _, err = o.List(ctx, testSession, "categories", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestOptions_ErrorIsNotCached(t *testing.T) {
	src := &stubOptions{err: model.NewBackendUnavailableError()}
	o := NewOptions(src, time.Minute, 10)

	_, _, err := o.List(context.Background(), testSession, "categories", "")
	require.Error(t, err)
	ee, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrBackendUnavailable, ee.Code)
	assert.Equal(t, 0, o.Len())
}

func TestOptions_FullCacheStillServes(t *testing.T) {
	src := &stubOptions{options: []model.OptionDescriptor{{Value: "1", Label: "One"}}}
	o := NewOptions(src, time.Minute, 1)
	ctx := context.Background()

	_, _, err := o.List(ctx, testSession, "a", "")
	require.NoError(t, err)
	got, cached, err := o.List(ctx, testSession, "b", "")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, o.Len())
}

func TestCache_SeedKeepsExistingEntries(t *testing.T) {
	c := testCache()
	c.Fail("categories", "cat-9")
	c.Seed("categories", "cat-9", "Scarves")
	c.Seed("categories", "cat-1", "Shirts")

	text, state := c.Text("categories", "cat-9")
	assert.Equal(t, "Unknown", text)
	assert.Equal(t, Failed, state)

	text, state = c.Text("categories", "cat-1")
	assert.Equal(t, "Shirts", text)
	assert.Equal(t, Known, state)
}
