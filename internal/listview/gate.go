package listview

import (
	"sync"

	"github.com/pitabwire/console/model"
)

// Gate holds at most one pending confirmation. A second request while one
// is pending is rejected, never queued.
type Gate struct {
	mu      sync.Mutex
	pending *model.ConfirmationRequest
}

// Request makes req pending, or fails with CONFIRMATION_PENDING.
func (g *Gate) Request(req model.ConfirmationRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		return model.NewConfirmationPendingError()
	}
	g.pending = &req
	return nil
}

// Pending returns the pending request, if any.
func (g *Gate) Pending() (model.ConfirmationRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return model.ConfirmationRequest{}, false
	}
	return *g.pending, true
}

// Take removes and returns the pending request.
func (g *Gate) Take() (model.ConfirmationRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return model.ConfirmationRequest{}, false
	}
	req := *g.pending
	g.pending = nil
	return req, true
}
