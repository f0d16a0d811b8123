package httpserver

import (
	"context"
	"log/slog"
	"net/http"
)

// HealthCheckHandler builds a probe endpoint. With no check funcs it is a
// liveness probe that always answers 200. With check funcs it is a readiness
// probe: every check must pass, and the first failure turns the response
// into a 503 with the failure logged.
func HealthCheckHandler(ctx context.Context, log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
