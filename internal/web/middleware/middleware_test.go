package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/manifestgen/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	enabled := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"alpha", "beta"}}
	disabled := &config.SecurityConfig{}

	tests := []struct {
		name   string
		cfg    *config.SecurityConfig
		header map[string]string
		want   int
	}{
		{"disabled", disabled, nil, http.StatusOK},
		{"missing key", enabled, nil, http.StatusUnauthorized},
		{"wrong key", enabled, map[string]string{"X-API-Key": "gamma"}, http.StatusForbidden},
		{"valid header", enabled, map[string]string{"X-API-Key": "beta"}, http.StatusOK},
		{"valid bearer", enabled, map[string]string{"Authorization": "Bearer alpha"}, http.StatusOK},
		{"basic auth ignored", enabled, map[string]string{"Authorization": "Basic alpha"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/manifests", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.cfg)(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK && !strings.Contains(rec.Body.String(), `"code":"AUTH_`) {
				t.Errorf("body %q should carry an auth error code", rec.Body.String())
			}
		})
	}
}

func TestIsValidAPIKey(t *testing.T) {
	if isValidAPIKey("x", nil) {
		t.Error("no configured keys must reject")
	}
	if !isValidAPIKey("k2", []string{"k1", "k2"}) {
		t.Error("configured key must be accepted")
	}
}

func TestLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/manifests", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=400", "bytes=4", "path=/api/manifests"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}
