package httpapi

import (
	"net/http"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// newRateLimitMiddleware builds a per-client-IP request limiter. formatted
// follows limiter's "<limit>-<period>" syntax, e.g. "100-M" for 100
// requests per minute. An empty formatted disables the middleware.
func newRateLimitMiddleware(formatted string) (func(http.Handler) http.Handler, error) {
	if formatted == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate, limiter.WithTrustForwardHeader(true))
	mw := stdlib.NewMiddleware(instance)
	return func(next http.Handler) http.Handler {
		limited := mw.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			limited.ServeHTTP(sr, r)
			if sr.status == http.StatusTooManyRequests {
				IncrementBackpressure("rate_limit")
			}
		})
	}, nil
}
