package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashita-ai/factstore/internal/ctxutil"
	"github.com/ashita-ai/factstore/internal/model"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// rate limiting for that request.
type KeyFunc func(r *http.Request) string

// CostFunc prices a request in tokens. A nil CostFunc charges 1.
type CostFunc func(r *http.Request) int

// Middleware rejects requests over the limit with 429 and the standard error
// envelope. A nil limiter disables it. Limiter errors fail open.
func Middleware(limiter Limiter, keyFunc KeyFunc, costFunc CostFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cost := 1
			if costFunc != nil {
				cost = costFunc(r)
			}

			allowed, err := limiter.Allow(r.Context(), key, cost)
			switch {
			case err != nil:
				logger.Warn("ratelimit: limiter error, allowing request",
					"key", key, "request_id", ctxutil.RequestID(r.Context()), "error", err)
			case !allowed:
				logger.Debug("ratelimit: rejected", "key", key, "cost", cost, "path", r.URL.Path)
				writeRateLimited(w, ctxutil.RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, requestID string) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys requests by the client IP in RemoteAddr. X-Forwarded-For is
// ignored because any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteScoped gives ingestion requests their own bucket, so a bulk import
// from one client cannot starve that client's reads.
func WriteScoped(kf KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		key := kf(r)
		if key == "" {
			return ""
		}
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return "write:" + key
		default:
			return "read:" + key
		}
	}
}
