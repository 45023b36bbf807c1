package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestLivenessHandler(t *testing.T) {
	tests := []struct {
		name       string
		alive      bool
		wantCode   int
		wantStatus string
	}{
		{"alive", true, http.StatusOK, "alive"},
		{"shutting down", false, http.StatusServiceUnavailable, "not alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker()
			checker.SetAlive(tt.alive)

			w := httptest.NewRecorder()
			LivenessHandler(checker, newTestLogger())(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if got := decodeHealth(t, w).Status; got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		probes     map[string]Probe
		alive      bool
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "all probes pass",
			probes:     map[string]Probe{"metastore": ok, "source": ok},
			alive:      true,
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"metastore": "ok", "source": "ok"},
		},
		{
			name:       "source down",
			probes:     map[string]Probe{"metastore": ok, "source": down},
			alive:      true,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"metastore": "ok", "source": "connection refused"},
		},
		{
			name:     "no probes",
			alive:    true,
			wantCode: http.StatusOK,
		},
		{
			name:       "not alive",
			probes:     map[string]Probe{"metastore": ok},
			alive:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"metastore": "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker()
			for name, probe := range tt.probes {
				checker.AddProbe(name, probe)
			}
			checker.SetAlive(tt.alive)

			w := httptest.NewRecorder()
			ReadinessHandler(checker, newTestLogger())(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			response := decodeHealth(t, w)
			if len(response.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", response.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if response.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, response.Checks[name], want)
				}
			}
		})
	}
}

func TestChecker_ProbeHonorsContext(t *testing.T) {
	checker := NewChecker()
	checker.AddProbe("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if checker.Readiness(ctx) {
		t.Error("Readiness() = true for a cancelled probe")
	}
	if got := checker.GetStatus()["slow"]; got != context.Canceled.Error() {
		t.Errorf("status = %q", got)
	}
}
