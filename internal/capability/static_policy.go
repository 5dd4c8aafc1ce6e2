package capability

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/console/model"
)

// policyFile is the on-disk role policy:
//
//	default: ["dashboard:view"]
//	roles:
//	  catalog_viewer: ["products:read", "categories:read"]
//	  catalog_editor: ["products:write"]
//	inherit:
//	  catalog_editor: [catalog_viewer]
type policyFile struct {
	Default []string            `yaml:"default"`
	Roles   map[string][]string `yaml:"roles"`
	Inherit map[string][]string `yaml:"inherit"`
}

// StaticPolicyEvaluator maps roles to capabilities from a YAML file. Sync
// re-reads the file; a broken file leaves the previous policy in place.
type StaticPolicyEvaluator struct {
	path string

	mu     sync.RWMutex
	grants map[string][]string // role -> capabilities, inheritance expanded
	common []string
}

// NewStaticPolicyEvaluator loads the policy at path.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if err := e.Sync(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities unions the default grants with those of every role
// the session holds. Unknown roles grant nothing.
func (e *StaticPolicyEvaluator) ResolveCapabilities(sctx *model.SessionContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := make(model.CapabilitySet)
	caps.Grant(e.common...)
	for _, role := range sctx.Roles {
		caps.Grant(e.grants[role]...)
	}
	return caps, nil
}

// Sync reloads the policy file.
func (e *StaticPolicyEvaluator) Sync() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("capability: read policy %s: %w", e.path, err)
	}
	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("capability: parse policy %s: %w", e.path, err)
	}
	grants, err := expandRoles(p)
	if err != nil {
		return fmt.Errorf("capability: policy %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.grants = grants
	e.common = p.Default
	e.mu.Unlock()
	return nil
}

// expandRoles folds inherited roles into each role's grants and rejects
// inheritance cycles and references to undeclared roles.
func expandRoles(p policyFile) (map[string][]string, error) {
	out := make(map[string][]string, len(p.Roles))
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(p.Roles))

	var visit func(role string) error
	visit = func(role string) error {
		switch state[role] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("role %q inherits itself", role)
		}
		if _, ok := p.Roles[role]; !ok {
			if _, ok := p.Inherit[role]; !ok {
				return fmt.Errorf("unknown role %q", role)
			}
		}
		state[role] = visiting
		caps := append([]string(nil), p.Roles[role]...)
		for _, parent := range p.Inherit[role] {
			if err := visit(parent); err != nil {
				return err
			}
			caps = append(caps, out[parent]...)
		}
		out[role] = caps
		state[role] = done
		return nil
	}

	for role := range p.Roles {
		if err := visit(role); err != nil {
			return nil, err
		}
	}
	for role := range p.Inherit {
		if err := visit(role); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AllowAllEvaluator grants everything. It is used without a policy file,
// leaving authorization to the backend.
type AllowAllEvaluator struct{}

// ResolveCapabilities returns the "*" set.
func (AllowAllEvaluator) ResolveCapabilities(*model.SessionContext) (model.CapabilitySet, error) {
	return model.CapabilitySet{"*": true}, nil
}

// Sync does nothing.
func (AllowAllEvaluator) Sync() error { return nil }
