package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"imagin3d/internal/gateway/handler"
)

func TestNewMux_HealthAndCORS(t *testing.T) {
	mux := NewMux(handler.New(nil, nil, []string{"http://studio.test"}), []string{"http://studio.test"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://studio.test")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://studio.test" {
		t.Fatalf("allow-origin = %q", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extract", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /extract status = %d", rec.Code)
	}
}
