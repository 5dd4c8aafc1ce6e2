package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pitabwire/console/model"
)

// Resource is the REST surface of one entity type.
type Resource struct {
	client    *Client
	def       *model.ResourceDefinition
	endpoints model.EndpointDefinition
}

// Resource binds the client to a resource definition.
func (c *Client) Resource(def *model.ResourceDefinition) *Resource {
	return &Resource{
		client:    c,
		def:       def,
		endpoints: def.Endpoints.Resolved(def.Entity),
	}
}

// Definition returns the bound resource definition.
func (r *Resource) Definition() *model.ResourceDefinition {
	return r.def
}

// List fetches the collection. withDeleted selects the recycle-bin endpoint,
// which returns active and soft-deleted records alike.
func (r *Resource) List(ctx context.Context, sctx *model.SessionContext, withDeleted bool) ([]model.Entity, error) {
	op, path := "list", r.endpoints.List
	if withDeleted {
		op, path = "list_with_deleted", r.endpoints.ListWithDeleted
	}
	data, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation(op),
		Method:    http.MethodGet,
		Path:      path,
	})
	if err != nil {
		return nil, err
	}
	return decodeCollection(data)
}

// Get fetches one record.
func (r *Resource) Get(ctx context.Context, sctx *model.SessionContext, id string) (model.Entity, error) {
	data, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation("get"),
		Method:    http.MethodGet,
		Path:      withID(r.endpoints.Get, id),
	})
	if err != nil {
		return nil, err
	}
	return decodeEntity(data), nil
}

// Create adds a record. The returned entity is nil when the backend
// acknowledged the call without echoing the record.
func (r *Resource) Create(ctx context.Context, sctx *model.SessionContext, sub model.Submission) (model.Entity, error) {
	data, err := r.client.Do(ctx, sctx, Request{
		Operation:  r.operation("create"),
		Method:     http.MethodPost,
		Path:       r.endpoints.Create,
		Submission: &sub,
	})
	if err != nil {
		return nil, err
	}
	return decodeEntity(data), nil
}

// Update replaces the fields of a record.
func (r *Resource) Update(ctx context.Context, sctx *model.SessionContext, id string, sub model.Submission) (model.Entity, error) {
	data, err := r.client.Do(ctx, sctx, Request{
		Operation:  r.operation("update"),
		Method:     http.MethodPut,
		Path:       withID(r.endpoints.Update, id),
		Submission: &sub,
	})
	if err != nil {
		return nil, err
	}
	return decodeEntity(data), nil
}

// UpdateStatus moves a record to a new status, e.g. an order to "shipped".
func (r *Resource) UpdateStatus(ctx context.Context, sctx *model.SessionContext, id, status string) (model.Entity, error) {
	field, path := "status", r.endpoints.Update
	if r.def.Status != nil {
		if r.def.Status.Field != "" {
			field = r.def.Status.Field
		}
		if r.def.Status.Endpoint != "" {
			path = r.def.Status.Endpoint
		}
	}
	data, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation("status"),
		Method:    http.MethodPut,
		Path:      withID(path, id),
		Body:      map[string]any{field: status},
	})
	if err != nil {
		return nil, err
	}
	return decodeEntity(data), nil
}

// Delete soft-deletes a record.
func (r *Resource) Delete(ctx context.Context, sctx *model.SessionContext, id string) error {
	_, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation("delete"),
		Method:    http.MethodDelete,
		Path:      withID(r.endpoints.Delete, id),
	})
	return err
}

// Restore brings a soft-deleted record back.
func (r *Resource) Restore(ctx context.Context, sctx *model.SessionContext, id string) error {
	_, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation("restore"),
		Method:    http.MethodPost,
		Path:      withID(r.endpoints.Restore, id),
	})
	return err
}

// PermanentDelete removes a soft-deleted record for good.
func (r *Resource) PermanentDelete(ctx context.Context, sctx *model.SessionContext, id string) error {
	_, err := r.client.Do(ctx, sctx, Request{
		Operation: r.operation("permanent_delete"),
		Method:    http.MethodDelete,
		Path:      withID(r.endpoints.PermanentDelete, id),
	})
	return err
}

func (r *Resource) operation(action string) string {
	return r.def.ID + "." + action
}

func withID(tmpl, id string) string {
	return strings.ReplaceAll(tmpl, "{id}", url.PathEscape(id))
}

// decodeCollection accepts either a bare array or an object wrapping one,
// such as {"items": [...]}.
func decodeCollection(data json.RawMessage) ([]model.Entity, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []model.Entity{}, nil
	}
	if data[0] == '[' {
		var items []model.Entity
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, model.NewBackendRejectedError("The backend returned an unreadable collection")
		}
		return dropEmpty(items), nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, model.NewBackendRejectedError("The backend returned an unreadable collection")
	}
	for _, key := range []string{"items", "data", "results", "rows"} {
		if raw, ok := wrapper[key]; ok {
			return decodeCollection(raw)
		}
	}
	for _, raw := range wrapper {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			return decodeCollection(raw)
		}
	}
	return nil, model.NewBackendRejectedError("The backend returned an unreadable collection")
}

func dropEmpty(items []model.Entity) []model.Entity {
	out := items[:0]
	for _, e := range items {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// decodeEntity returns the record carried in data, or nil when data is not
// an object.
func decodeEntity(data json.RawMessage) model.Entity {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var e model.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil
	}
	return e
}
