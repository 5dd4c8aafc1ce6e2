package listview

import (
	"fmt"
	"slices"

	"github.com/pitabwire/console/model"
)

// Window is the visible page of a filtered collection.
type Window struct {
	sizes []int
	page  int
	size  int
}

// NewWindow creates a window on page 1. defaultSize must be one of sizes;
// otherwise the first size is used.
func NewWindow(sizes []int, defaultSize int) *Window {
	if len(sizes) == 0 {
		sizes = []int{10, 20, 50}
	}
	if !slices.Contains(sizes, defaultSize) {
		defaultSize = sizes[0]
	}
	return &Window{sizes: slices.Clone(sizes), page: 1, size: defaultSize}
}

// TotalPages returns ceil(n/size).
func TotalPages(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Page returns the current page, starting at 1.
func (w *Window) Page() int { return w.page }

// Size returns the page size.
func (w *Window) Size() int { return w.size }

// Sizes returns the allowed page sizes.
func (w *Window) Sizes() []int { return slices.Clone(w.sizes) }

// SetPage moves to page p of a collection of n items. Pages outside
// [1, totalPages] are ignored and SetPage reports false.
func (w *Window) SetPage(p, n int) bool {
	if p < 1 || p > TotalPages(n, w.size) {
		return false
	}
	w.page = p
	return true
}

// SetSize changes the page size and returns to page 1.
func (w *Window) SetSize(size int) error {
	if !slices.Contains(w.sizes, size) {
		return fmt.Errorf("page size %d is not one of %v", size, w.sizes)
	}
	w.size = size
	w.page = 1
	return nil
}

// Reset returns to page 1.
func (w *Window) Reset() {
	w.page = 1
}

// Clamp pulls the page back into range after the collection shrank.
func (w *Window) Clamp(n int) {
	total := TotalPages(n, w.size)
	if w.page > total {
		w.page = max(total, 1)
	}
}

// Bounds returns the slice bounds of the current page.
func (w *Window) Bounds(n int) (start, end int) {
	start = min((w.page-1)*w.size, n)
	end = min(start+w.size, n)
	return start, end
}

// State describes the window for a collection of n items.
func (w *Window) State(n int) model.PageState {
	total := TotalPages(n, w.size)
	return model.PageState{
		Page:       w.page,
		PageSize:   w.size,
		TotalPages: total,
		TotalItems: n,
		HasPrev:    w.page > 1,
		HasNext:    w.page < total,
	}
}
