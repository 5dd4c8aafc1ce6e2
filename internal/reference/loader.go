package reference

import (
	"context"
	"fmt"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/model"
)

// BackendLoader loads labels with GET /{entity}/{id} on the referenced
// resource.
type BackendLoader struct {
	registry *definition.Registry
	client   *backend.Client
}

// NewBackendLoader creates a loader over the definition registry.
func NewBackendLoader(registry *definition.Registry, client *backend.Client) *BackendLoader {
	return &BackendLoader{registry: registry, client: client}
}

// LoadLabel implements Loader. A record without a label is an error, so the
// id ends up pinned as unknown rather than shown blank.
func (l *BackendLoader) LoadLabel(ctx context.Context, sctx *model.SessionContext, resource, id string) (string, error) {
	def, ok := l.registry.GetResource(resource)
	if !ok {
		return "", fmt.Errorf("resource %q not defined", resource)
	}
	entity, err := l.client.Resource(&def).Get(ctx, sctx, id)
	if err != nil {
		return "", err
	}
	label := entity.Text(def.EffectiveLabelField())
	if label == "" {
		return "", fmt.Errorf("%s %s has no %s", resource, id, def.EffectiveLabelField())
	}
	return label, nil
}

// ListOptions implements OptionsSource with the active collection of the
// resource. Records without a label are skipped.
func (l *BackendLoader) ListOptions(ctx context.Context, sctx *model.SessionContext, resource string) ([]model.OptionDescriptor, error) {
	def, ok := l.registry.GetResource(resource)
	if !ok {
		return nil, model.NewNotFoundError("Unknown resource " + resource)
	}
	entities, err := l.client.Resource(&def).List(ctx, sctx, false)
	if err != nil {
		return nil, err
	}
	idField, labelField := def.EffectiveIDField(), def.EffectiveLabelField()
	options := make([]model.OptionDescriptor, 0, len(entities))
	for _, e := range entities {
		value, label := e.ID(idField), e.Text(labelField)
		if value == "" || label == "" {
			continue
		}
		options = append(options, model.OptionDescriptor{Value: value, Label: label})
	}
	return options, nil
}
