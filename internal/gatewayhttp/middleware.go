package gatewayhttp

import (
	"context"
	"net/http"
)

type traceKey struct{}

var traceCtxKey = traceKey{}

// traceMiddleware accepts an inbound X-Amzn-Trace-Id, generating one if
// absent, echoes it on the response, and stashes it in the request context
// so downstream handlers can use its root id as the RIE event's request id.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceHeader := r.Header.Get(amznTraceIDHeader)
		if traceHeader == "" {
			traceHeader = newAmznTraceID()
		}
		w.Header().Set(amznTraceIDHeader, traceHeader)

		ctx := context.WithValue(r.Context(), traceCtxKey, traceHeader)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func traceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceCtxKey).(string)
	return v
}
