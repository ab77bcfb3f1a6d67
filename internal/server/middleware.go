package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/bleepstore/bucketwalk/internal/metrics"
)

// commonHeaders is HTTP middleware that tags every response with a request
// ID and the server name.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.NewString())
		w.Header().Set("Server", "bucketwalk")
		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture the HTTP status code.
// This is used by the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

// WriteHeader captures the status code and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Write marks the header as written and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	return rr.ResponseWriter.Write(b)
}

// Flush implements the http.Flusher interface if the underlying ResponseWriter supports it.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel carries the metrics label of the route that served a request.
// metricsMiddleware installs an empty one in the request context and the
// matched handler fills it in.
type routeLabel struct {
	name string
}

type routeLabelKey struct{}

func setRouteLabel(ctx context.Context, name string) {
	if l, ok := ctx.Value(routeLabelKey{}).(*routeLabel); ok {
		l.name = name
	}
}

// labelOperation is a huma middleware that labels requests with the
// operation ID of the huma operation serving them.
func labelOperation(ctx huma.Context, next func(huma.Context)) {
	setRouteLabel(ctx.Context(), ctx.Operation().OperationID)
	next(ctx)
}

// labelRoute wraps a plain router handler so its requests are labelled name.
func labelRoute(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setRouteLabel(r.Context(), name)
		h.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request count and duration per route. Requests
// no labelled route served (docs assets, OpenAPI, 404s) fall back to the
// normalized path. /metrics is not instrumented.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		label := &routeLabel{}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeLabelKey{}, label)))

		route := label.name
		if route == "" {
			route = metrics.NormalizePath(r.URL.Path)
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
