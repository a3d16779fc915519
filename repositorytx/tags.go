package repositorytx

import (
	"context"
)

type namespacesContextKey struct{}

// WithNamespaces attaches additional namespaces to the context. Writes made
// with the returned context clear them together with the repository
// namespace, for caches holding joins over the written table.
func WithNamespaces(ctx context.Context, namespaces ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(namespaces) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(namespacesFromContext(ctx), namespaces...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, namespacesContextKey{}, combined)
}

func namespacesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if namespaces, ok := ctx.Value(namespacesContextKey{}).([]string); ok {
		return append([]string(nil), namespaces...)
	}
	return nil
}

// dedupeStrings drops empty and repeated values, keeping the first
// occurrence order.
func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
