package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelbatch/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// allow charges cost tokens to the caller and writes the rejection response
// when the bucket is empty. Limiter outages fail open.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, cost int) bool {
	if s.rateLimiter == nil {
		return true
	}

	subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	if subject == "" {
		subject = "anonymous"
	}
	route := routeLabel(r.URL.Path)
	subject = subject + ":" + route

	decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
	if errors.Is(err, ratelimit.ErrCostExceedsCapacity) {
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "batch has more items than the rate limit allows",
		})
		return false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
	return false
}
