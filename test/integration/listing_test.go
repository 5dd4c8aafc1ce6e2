package integration

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/model"
)

func rowIDs(snap model.ScreenSnapshot) []string {
	ids := make([]string, 0, len(snap.Rows))
	for _, r := range snap.Rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// ==========================================================================
// Mounting
// ==========================================================================

func TestListing_MountLoadsActiveProducts(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)

	snap := h.Mount(sid, "products", model.ViewActive)

	if snap.State != model.ScreenReady {
		t.Fatalf("state = %q, want ready", snap.State)
	}
	if snap.Page.TotalItems != 12 {
		t.Errorf("total items = %d, want 12", snap.Page.TotalItems)
	}
	if len(snap.Rows) != 10 {
		t.Errorf("rows = %d, want 10", len(snap.Rows))
	}
	if snap.Rows[0].ID != "p-01" {
		t.Errorf("first row = %q, want p-01", snap.Rows[0].ID)
	}
	for _, r := range snap.Rows {
		if r.Deleted || r.ID == "p-99" {
			t.Errorf("deleted row %q in the active view", r.ID)
		}
	}

	price := snap.Rows[0].Cells["price"]
	if price.Text != "$25.00" {
		t.Errorf("price text = %q, want $25.00", price.Text)
	}

	h.Backend.AssertCalled(t, "product.list", 1)
	h.Backend.AssertNotCalled(t, "product.list_with_deleted")

	req := h.Backend.LastRequest("product.list")
	if req.Authorization == "" || req.Authorization[:7] != "Bearer " {
		t.Errorf("authorization = %q, want a bearer token", req.Authorization)
	}
	if req.CorrelationID == "" {
		t.Error("backend request carries no correlation id")
	}
}

func TestListing_MountRecycleBin(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)

	snap := h.Mount(sid, "products", model.ViewRecycleBin)

	if got := rowIDs(snap); len(got) != 1 || got[0] != "p-99" {
		t.Fatalf("recycle bin rows = %v, want [p-99]", got)
	}
	if !snap.Rows[0].Deleted {
		t.Error("recycle bin row not marked deleted")
	}
	h.Backend.AssertCalled(t, "product.list_with_deleted", 1)
}

func TestListing_MountWithoutRecycleBin(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)

	resp := h.POST("/ui/screens", sid, map[string]string{"resource": "categories", "view": model.ViewRecycleBin})
	h.AssertError(t, resp, http.StatusBadRequest, model.ErrBadRequest)
}

func TestListing_MountUnknownResource(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)

	resp := h.POST("/ui/screens", sid, map[string]string{"resource": "suppliers"})
	h.AssertError(t, resp, http.StatusNotFound, model.ErrNotFound)
}

func TestListing_FirstLoadFailureShowsBanner(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	h.Backend.InjectFault("product.list", Fault{Status: http.StatusForbidden, Message: "store is suspended", Times: 1})

	snap := h.Mount(sid, "products", model.ViewActive)

	if snap.State != model.ScreenError {
		t.Fatalf("state = %q, want error", snap.State)
	}
	if snap.Banner == nil || snap.Banner.Code != model.ErrForbidden {
		t.Fatalf("banner = %+v, want FORBIDDEN", snap.Banner)
	}
	if len(snap.Rows) != 0 {
		t.Errorf("rows = %d, want none", len(snap.Rows))
	}

	// A failed first load stays in Error until reloaded.
	time.Sleep(2 * h.Config().ListView.MutationErrorTTL)
	if again := h.Snapshot(sid, snap.ScreenID); again.State != model.ScreenError {
		t.Errorf("state after banner ttl = %q, want error", again.State)
	}

	var reloaded model.ScreenSnapshot
	h.AssertJSON(t, h.POST("/ui/screens/"+snap.ScreenID+"/reload", sid, nil), http.StatusOK, &reloaded)
	if reloaded.State != model.ScreenReady || reloaded.Banner != nil {
		t.Errorf("after reload = %s", FormatJSON(reloaded))
	}
	if reloaded.Page.TotalItems != 12 {
		t.Errorf("total items = %d, want 12", reloaded.Page.TotalItems)
	}
}

func TestListing_UnmountClosesScreen(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	h.AssertStatus(t, h.DELETE("/ui/screens/"+snap.ScreenID, sid), http.StatusNoContent)
	h.AssertError(t, h.GET("/ui/screens/"+snap.ScreenID, sid), http.StatusNotFound, model.ErrNotFound)
}

// ==========================================================================
// Search and Facet
// ==========================================================================

func TestListing_SearchIsDebounced(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)
	path := "/ui/screens/" + snap.ScreenID + "/filter"

	var typed model.ScreenSnapshot
	h.AssertJSON(t, h.PUT(path, sid, map[string]any{"query": "shirt"}), http.StatusOK, &typed)

	if typed.Filter.Query != "" {
		t.Errorf("query applied before the debounce window: %q", typed.Filter.Query)
	}
	if typed.Filter.Pending != "shirt" {
		t.Errorf("pending query = %q, want shirt", typed.Filter.Pending)
	}
	if typed.Page.TotalItems != 12 {
		t.Errorf("total items = %d before the search applied, want 12", typed.Page.TotalItems)
	}

	applied := h.WaitFor(sid, snap.ScreenID, 2*time.Second, func(s model.ScreenSnapshot) bool {
		return s.Filter.Query == "shirt"
	})
	if applied.Filter.Pending != "" {
		t.Errorf("pending query = %q after apply", applied.Filter.Pending)
	}
	if got := rowIDs(applied); len(got) != 2 || got[0] != "p-01" || got[1] != "p-02" {
		t.Errorf("rows = %v, want [p-01 p-02]", got)
	}

	// Searching is local to the loaded collection.
	h.Backend.AssertCalled(t, "product.list", 1)
}

func TestListing_SearchKeystrokesCoalesce(t *testing.T) {
	h := NewTestHarness(t, WithListView(func(c *config.ListViewConfig) {
		c.SearchDebounce = 150 * time.Millisecond
	}))
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)
	path := "/ui/screens/" + snap.ScreenID + "/filter"

	for _, q := range []string{"s", "sn", "snea", "sneak"} {
		h.AssertStatus(t, h.PUT(path, sid, map[string]any{"query": q}), http.StatusOK)
	}

	applied := h.WaitFor(sid, snap.ScreenID, 2*time.Second, func(s model.ScreenSnapshot) bool {
		return s.Filter.Query != ""
	})
	if applied.Filter.Query != "sneak" {
		t.Errorf("applied query = %q, want only the last keystroke", applied.Filter.Query)
	}
	if got := rowIDs(applied); len(got) != 1 || got[0] != "p-03" {
		t.Errorf("rows = %v, want [p-03]", got)
	}
}

func TestListing_SearchMatchesSecondaryField(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	var got model.ScreenSnapshot
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"query": "leather-boot", "immediate": true}), http.StatusOK, &got)

	if got.Filter.Query != "leather-boot" {
		t.Errorf("query = %q, immediate search should apply at once", got.Filter.Query)
	}
	if ids := rowIDs(got); len(ids) != 1 || ids[0] != "p-04" {
		t.Errorf("rows = %v, want [p-04] matched by sku", ids)
	}
}

func TestListing_FacetFiltersDrafts(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	var got model.ScreenSnapshot
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"facet": "draft"}), http.StatusOK, &got)

	want := []string{"p-03", "p-06", "p-09", "p-12"}
	ids := rowIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("rows = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("rows[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if got.Page.TotalPages != 1 || got.Page.HasNext {
		t.Errorf("page = %+v", got.Page)
	}

	// Facet and text search combine.
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"query": "tee", "immediate": true}), http.StatusOK, &got)
	if ids := rowIDs(got); len(ids) != 3 {
		t.Errorf("draft tees = %v, want 3", ids)
	}

	// Switching the facet starts a new search, so the list is complete again.
	got = model.ScreenSnapshot{}
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"facet": ""}), http.StatusOK, &got)
	if got.Filter.Query != "" {
		t.Errorf("query = %q after facet change, want empty", got.Filter.Query)
	}
	if got.Page.TotalItems != 12 {
		t.Errorf("total items = %d after clearing, want 12", got.Page.TotalItems)
	}

	// A facet and query sent together both apply.
	got = model.ScreenSnapshot{}
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"facet": "draft", "query": "tee", "immediate": true}), http.StatusOK, &got)
	if got.Filter.Query != "tee" || len(rowIDs(got)) != 3 {
		t.Errorf("filter = %+v rows = %v, want draft tees", got.Filter, rowIDs(got))
	}
}

func TestListing_FacetRejectsUnknownValue(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	resp := h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid, map[string]any{"facet": "discontinued"})
	envelope := h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
	if len(envelope.Details) != 1 || envelope.Details[0].Field != "facet" {
		t.Errorf("details = %+v", envelope.Details)
	}
}

// ==========================================================================
// Pagination
// ==========================================================================

func TestListing_PagingWindow(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)
	path := "/ui/screens/" + snap.ScreenID + "/page"

	if snap.Page.Page != 1 || snap.Page.PageSize != 10 || snap.Page.TotalPages != 2 {
		t.Fatalf("initial page = %+v", snap.Page)
	}
	if snap.Page.HasPrev || !snap.Page.HasNext {
		t.Errorf("initial prev/next = %v/%v", snap.Page.HasPrev, snap.Page.HasNext)
	}

	var second model.ScreenSnapshot
	h.AssertJSON(t, h.PUT(path, sid, map[string]any{"page": 2}), http.StatusOK, &second)
	if second.Page.Page != 2 || len(second.Rows) != 2 {
		t.Fatalf("second page = %+v with %d rows", second.Page, len(second.Rows))
	}
	if second.Rows[0].ID != "p-11" {
		t.Errorf("first row of page 2 = %q, want p-11", second.Rows[0].ID)
	}
	if !second.Page.HasPrev || second.Page.HasNext {
		t.Errorf("page 2 prev/next = %v/%v", second.Page.HasPrev, second.Page.HasNext)
	}

	// The page-change indicator clears on its own.
	h.WaitFor(sid, snap.ScreenID, time.Second, func(s model.ScreenSnapshot) bool { return !s.Loading })

	// Out-of-range pages are ignored.
	var same model.ScreenSnapshot
	h.AssertJSON(t, h.PUT(path, sid, map[string]any{"page": 7}), http.StatusOK, &same)
	if same.Page.Page != 2 {
		t.Errorf("page after out-of-range request = %d, want 2", same.Page.Page)
	}
	h.AssertJSON(t, h.PUT(path, sid, map[string]any{"page": 0}), http.StatusOK, &same)
	if same.Page.Page != 2 {
		t.Errorf("page after page 0 = %d, want 2", same.Page.Page)
	}
}

func TestListing_PageSizeResetsToFirstPage(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)
	path := "/ui/screens/" + snap.ScreenID + "/page"

	h.AssertStatus(t, h.PUT(path, sid, map[string]any{"page": 2}), http.StatusOK)

	var resized model.ScreenSnapshot
	h.AssertJSON(t, h.PUT(path, sid, map[string]any{"page_size": 20}), http.StatusOK, &resized)
	if resized.Page.Page != 1 || resized.Page.PageSize != 20 {
		t.Errorf("page = %+v, want page 1 of size 20", resized.Page)
	}
	if resized.Page.TotalPages != 1 || len(resized.Rows) != 12 {
		t.Errorf("total pages = %d, rows = %d", resized.Page.TotalPages, len(resized.Rows))
	}

	resp := h.PUT(path, sid, map[string]any{"page_size": 15})
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
}

func TestListing_SearchResetsPage(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	h.AssertStatus(t, h.PUT("/ui/screens/"+snap.ScreenID+"/page", sid, map[string]any{"page": 2}), http.StatusOK)

	var got model.ScreenSnapshot
	h.AssertJSON(t, h.PUT("/ui/screens/"+snap.ScreenID+"/filter", sid,
		map[string]any{"query": "tee", "immediate": true}), http.StatusOK, &got)
	if got.Page.Page != 1 {
		t.Errorf("page = %d after search, want 1", got.Page.Page)
	}
	if got.Page.TotalItems != 8 {
		t.Errorf("total items = %d, want 8 tees", got.Page.TotalItems)
	}
}

// ==========================================================================
// Long polling
// ==========================================================================

func TestListing_SnapshotLongPollReturnsOnChange(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)
	current := h.WaitFor(sid, snap.ScreenID, 5*time.Second, func(s model.ScreenSnapshot) bool {
		return s.State == model.ScreenReady
	})

	time.Sleep(50 * time.Millisecond)
	put := h.Async(http.MethodPut, "/ui/screens/"+snap.ScreenID+"/filter", sid, map[string]any{"facet": "draft"})

	// Background label resolution also wakes the poll, so keep polling until
	// the facet change is visible.
	start := time.Now()
	deadline := start.Add(5 * time.Second)
	changed := current
	for changed.Filter.Facet != "draft" {
		if time.Now().After(deadline) {
			<-put
			t.Fatalf("facet change not observed; last snapshot:\n%s", FormatJSON(changed))
		}
		var next model.ScreenSnapshot
		path := "/ui/screens/" + snap.ScreenID + "?since=" + strconv.FormatUint(changed.Version, 10) + "&wait=5s"
		h.AssertJSON(t, h.GET(path, sid), http.StatusOK, &next)
		if next.Version <= changed.Version && next.Filter.Facet != "draft" {
			t.Fatalf("version = %d, want past %d", next.Version, changed.Version)
		}
		changed = next
	}

	res := <-put
	if res.Err != nil || res.Status != http.StatusOK {
		t.Fatalf("PUT filter: status %d, err %v, body %s", res.Status, res.Err, res.Body)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("long poll took %v, want it to return on the change", elapsed)
	}
	if changed.Version <= current.Version {
		t.Errorf("version = %d, want past %d", changed.Version, current.Version)
	}
	if got := rowIDs(changed); len(got) == 0 {
		t.Error("draft facet should list draft products")
	}
}

func TestListing_SnapshotRejectsBadSince(t *testing.T) {
	h := NewTestHarness(t)
	sid := h.Login(AdminEmail)
	snap := h.Mount(sid, "products", model.ViewActive)

	h.AssertError(t, h.GET("/ui/screens/"+snap.ScreenID+"?since=latest", sid), http.StatusBadRequest, model.ErrBadRequest)
}
