package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func opsMux(cfg Config, dbEnabled bool) *http.ServeMux {
	mux := http.NewServeMux()
	registerOps(mux, testAppLogger(), cfg, nil, dbEnabled)
	return mux
}

func TestOps_Healthz(t *testing.T) {
	t.Parallel()

	mux := opsMux(Config{}, false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestOps_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		dbEnabled  bool
		wantStatus int
	}{
		{
			name:       "memory mode is always ready",
			cfg:        Config{},
			wantStatus: http.StatusOK,
		},
		{
			name:       "db required but not configured",
			cfg:        Config{ReadinessRequireDB: true},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mux := opsMux(tc.cfg, tc.dbEnabled)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestOps_Metrics(t *testing.T) {
	t.Parallel()

	mux := opsMux(Config{}, false)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text") {
		t.Fatalf("content type: %q", rec.Header().Get("Content-Type"))
	}
}
