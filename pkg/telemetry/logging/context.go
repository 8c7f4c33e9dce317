package logging

import (
	"context"
	"log/slog"
)

type fieldsKey struct{}

// fields are the request-scoped values copied onto every record logged with
// a context. A context carries at most one fields value; each With* call
// stores an updated copy.
type fields struct {
	requestID string
	provider  string
	user      string
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

func with(ctx context.Context, update func(*fields)) context.Context {
	f := fromContext(ctx)
	update(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithRequestID returns ctx tagged with the id of the API request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, func(f *fields) { f.requestID = requestID })
}

// GetRequestID returns the request id in ctx, or "".
func GetRequestID(ctx context.Context) string {
	return fromContext(ctx).requestID
}

// WithProvider returns ctx tagged with the provider an admission concerns.
func WithProvider(ctx context.Context, provider string) context.Context {
	return with(ctx, func(f *fields) { f.provider = provider })
}

// GetProvider returns the provider id in ctx, or "".
func GetProvider(ctx context.Context) string {
	return fromContext(ctx).provider
}

// WithUser returns ctx tagged with the calling user.
func WithUser(ctx context.Context, user string) context.Context {
	return with(ctx, func(f *fields) { f.user = user })
}

// GetUser returns the user id in ctx, or "".
func GetUser(ctx context.Context) string {
	return fromContext(ctx).user
}

func contextAttrs(ctx context.Context) []slog.Attr {
	f := fromContext(ctx)
	attrs := make([]slog.Attr, 0, 3)
	for _, kv := range [...]struct{ key, value string }{
		{"request_id", f.requestID},
		{"provider", f.provider},
		{"user", f.user},
	} {
		if kv.value != "" {
			attrs = append(attrs, slog.String(kv.key, kv.value))
		}
	}
	return attrs
}
