package model

import (
	"slices"
	"strings"
)

// CapabilitySet holds the capabilities granted to a session. Capabilities
// are colon separated, "products:update". A "*" segment matches any single
// segment and a trailing "*" matches the rest, so "products:*" grants every
// products capability and "*" grants everything.
type CapabilitySet map[string]bool

// Grant adds caps to the set.
func (cs CapabilitySet) Grant(caps ...string) {
	for _, c := range caps {
		if c != "" {
			cs[c] = true
		}
	}
}

// Has reports whether cap is granted, directly or through a pattern.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern, granted := range cs {
		if granted && strings.Contains(pattern, "*") && matches(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll reports whether every cap is granted. It is true for no caps.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	return !slices.ContainsFunc(caps, func(c string) bool { return !cs.Has(c) })
}

// HasAny reports whether at least one cap is granted.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	return slices.ContainsFunc(caps, cs.Has)
}

// Sorted returns the granted entries in lexical order.
func (cs CapabilitySet) Sorted() []string {
	out := make([]string, 0, len(cs))
	for c, granted := range cs {
		if granted {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

func matches(pattern, cap string) bool {
	want := strings.Split(pattern, ":")
	got := strings.Split(cap, ":")
	for i, seg := range want {
		last := i == len(want)-1
		switch {
		case seg == "*" && last:
			return len(got) > i
		case i >= len(got):
			return false
		case seg != "*" && seg != got[i]:
			return false
		}
	}
	return len(want) == len(got)
}

// CapabilityResolver resolves the capability set of a session.
type CapabilityResolver interface {
	Resolve(sctx *SessionContext) (CapabilitySet, error)
	// Invalidate drops anything cached for the session.
	Invalidate(sessionID string)
}

// PolicyEvaluator maps a session's roles to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(sctx *SessionContext) (CapabilitySet, error)
	// Sync reloads the policy from its source.
	Sync() error
}
