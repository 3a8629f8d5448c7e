// Package httpmiddleware provides net/http middleware for the API server:
// panic recovery, CORS, rate limiting, request ids, request logging and
// OpenTelemetry instrumentation. Middlewares are router-agnostic decorators
// composed with Wrap.
package httpmiddleware

import "net/http"

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h with the first one outermost:
// Wrap(h, a, b, c) serves requests through a(b(c(h))).
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
