package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpauth/obo-core/pkg/logger"
)

// descriptorKey is the JSON key that marks a secret reference, e.g.
// {"$secret": "DB_PASSWORD"}.
const descriptorKey = "$secret"

// Resolver resolves "$secret" descriptors against an ordered chain of
// providers. The first provider to return a non-ErrNotFound value wins; a
// FatalError from any provider aborts resolution immediately; if every
// provider returns ErrNotFound the resolver fails loud rather than
// installing an empty value (spec.md §4.6).
type Resolver struct {
	providers []Provider
}

// NewResolver builds a Resolver trying providers in the given order.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve resolves a single secret name through the provider chain.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if len(r.providers) == 0 {
		return "", fmt.Errorf("secrets: no providers configured, cannot resolve %q", name)
	}

	for _, p := range r.providers {
		v, err := p.Get(ctx, name)
		if err == nil {
			return v, nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return "", fatal
		}
		if errors.Is(err, ErrNotFound) {
			logger.Debugf("secrets: provider %s has no value for %q, trying next", p.Name(), name)
			continue
		}
		// Unrecognized error shape: treat conservatively as fatal so a
		// misbehaving provider can't silently degrade to NOT_FOUND.
		return "", fmt.Errorf("secrets: provider %s failed resolving %q: %w", p.Name(), name, err)
	}

	return "", fmt.Errorf("secrets: %q not found in any configured provider", name)
}

// isDescriptor reports whether v is a {"$secret": "NAME"} map and, if so,
// returns the referenced name.
func isDescriptor(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	raw, ok := m[descriptorKey]
	if !ok {
		return "", false
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// ResolveObject walks a decoded JSON tree (the output of json.Unmarshal into
// `any`) and replaces every "$secret" descriptor node with its resolved
// string value, recursively, preserving the shape of the tree everywhere
// else. Applying ResolveObject to an already-resolved tree is a no-op,
// since there are no remaining descriptor nodes to find (spec.md §8,
// invariant 7).
func (r *Resolver) ResolveObject(ctx context.Context, node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if name, ok := isDescriptor(v); ok {
			resolved, err := r.Resolve(ctx, name)
			if err != nil {
				return nil, err
			}
			return resolved, nil
		}

		out := make(map[string]any, len(v))
		for k, child := range v {
			resolvedChild, err := r.ResolveObject(ctx, child)
			if err != nil {
				return nil, fmt.Errorf("resolving field %q: %w", k, err)
			}
			out[k] = resolvedChild
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolvedChild, err := r.ResolveObject(ctx, child)
			if err != nil {
				return nil, fmt.Errorf("resolving index %d: %w", i, err)
			}
			out[i] = resolvedChild
		}
		return out, nil

	default:
		return v, nil
	}
}
