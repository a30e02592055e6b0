package transaction

import "context"

type originKey struct{}

// WithOrigin stamps ctx with the token identifying the owner that issued the call.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin token carried by ctx, or "" when there is none.
func OriginFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
