package httpapi

import (
	"context"
	"net/http"
)

// shutdownCtx is canceled when the process begins shutting down so long
// generations end with the server instead of holding Shutdown open.
var shutdownCtx = context.Background()

// SetShutdownContext installs the process shutdown context. Nil resets it.
func SetShutdownContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx = ctx
}

// requestContext derives a context from r that also ends on shutdown and
// after the configured generate timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(shutdownCtx, cancel)
	if d := current.GenerateTimeout; d > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, d)
		return ctx, func() { stop(); tcancel(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}
