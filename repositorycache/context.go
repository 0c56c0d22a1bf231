package repositorycache

import "context"

type refreshContextKey struct{}

// WithRefresh marks ctx so cache-aside reads skip the cache lookup, load from
// the repository and repopulate the entry.
func WithRefresh(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, refreshContextKey{}, true)
}

func refreshFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(refreshContextKey{}).(bool)
	return v
}
