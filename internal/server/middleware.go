package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/factstore/internal/ctxutil"
	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/ratelimit"
	"github.com/ashita-ai/factstore/internal/telemetry"
)

// RequestIDFromContext extracts the request ID assigned by the server.
func RequestIDFromContext(ctx context.Context) string {
	return ctxutil.RequestID(ctx)
}

// maxRequestIDLen bounds caller-supplied X-Request-ID values.
const maxRequestIDLen = 128

// requestIDMiddleware assigns a unique request ID to each request, honoring
// a caller-supplied X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.New().String()
		}
		ctx := ctxutil.WithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// routeKey carries a *routeHolder that the router fills with the matched
// ServeMux pattern, so outer middleware can label requests by route.
type routeKey struct{}

type routeHolder struct{ pattern string }

// recordRoute serves mux and stores the pattern it matched.
func recordRoute(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if h, ok := r.Context().Value(routeKey{}).(*routeHolder); ok {
			h.pattern = r.Pattern
		}
	})
}

var (
	tracer    = telemetry.Tracer("factstore/http")
	httpMeter = telemetry.Meter("factstore/http")
)

// observeMiddleware traces each request, records request count and latency by
// route, and writes one structured log line when the handler returns.
func observeMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	requests, _ := httpMeter.Int64Counter("http.server.request_count")
	duration, _ := httpMeter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := ctxutil.RequestID(r.Context())
		route := &routeHolder{}

		ctx := context.WithValue(r.Context(), routeKey{}, route)
		ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.request_id", reqID),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		pattern := route.pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		span.SetName(pattern)
		span.SetAttributes(
			attribute.String("http.route", pattern),
			attribute.Int("http.status_code", sw.statusCode),
		)
		if sw.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
		}

		attrs := otelmetric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", pattern),
			attribute.String("http.status_code", strconv.Itoa(sw.statusCode)),
		)
		if requests != nil {
			requests.Add(ctx, 1, attrs)
		}
		if duration != nil {
			duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
		}

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"route", pattern,
			"status", sw.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", reqID,
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			fields = append(fields, "trace_id", sc.TraceID().String())
		}
		logger.Log(ctx, statusLevel(sw.statusCode), "http request", fields...)
	})
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// statusWriter records the response status. It passes Flush through so the
// SSE handler keeps working behind the middleware chain.
type statusWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// batchRequestCost is the token price of POST /v1/facts/batch.
const batchRequestCost = 10

func requestCost(r *http.Request) int {
	if r.Method == http.MethodPost && r.URL.Path == "/v1/facts/batch" {
		return batchRequestCost
	}
	return 1
}

// rateLimitMiddleware limits requests per client IP, with separate read and
// write buckets. Batch ingestion costs more than a single write. Health
// checks and the long-lived SSE stream are exempt.
func rateLimitMiddleware(limiter ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	limited := ratelimit.Middleware(limiter, ratelimit.WriteScoped(ratelimit.IPKeyFunc), requestCost, logger)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/v1/subscribe":
			next.ServeHTTP(w, r)
		default:
			limited.ServeHTTP(w, r)
		}
	})
}

// recoveryMiddleware turns a handler panic into a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("http: handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
