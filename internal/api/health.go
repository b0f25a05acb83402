package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const readyTimeout = 2 * time.Second

func runChecks(r *http.Request, checks map[string]ReadyCheck) (int, map[string]string) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	body := map[string]string{"status": "ready"}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "not ready"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	return status, body
}

// HealthHandler serves /healthz and /readyz for the monitoring port.
func HealthHandler(checks map[string]ReadyCheck) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status, body := runChecks(r, checks)
		writeJSON(w, status, body)
	})
	return mux
}
