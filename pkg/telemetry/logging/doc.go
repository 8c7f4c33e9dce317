// Package logging builds the process logger on log/slog.
//
//	logger, err := logging.New(logging.Config{Level: "info", Format: "json"})
//	slog.SetDefault(logger)
//
// Request-scoped fields stored with WithRequestID, WithProvider and WithUser
// are added to every record logged with a *Context method:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "admission decided", "allow", true)
//
// Values of credential-like keys (password, token, api_key) are masked.
package logging
