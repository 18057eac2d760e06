package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mccd/mccd/internal/config"
	"github.com/mccd/mccd/internal/domain/certificate"
	"github.com/mccd/mccd/internal/platform/metrics"
)

func TestResolveSigningKey_FromEnv(t *testing.T) {
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	key, err := resolveSigningKey(hex.EncodeToString(want))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hex.EncodeToString(key) != hex.EncodeToString(want) {
		t.Errorf("key mismatch: got %x, want %x", key, want)
	}
}

func TestResolveSigningKey_Invalid(t *testing.T) {
	if _, err := resolveSigningKey("not-valid-hex!!!"); err == nil {
		t.Error("expected error for invalid hex")
	}
	if _, err := resolveSigningKey("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if key, err := resolveSigningKey(""); err != nil || key != nil {
		t.Errorf("expected no key, got %x %v", key, err)
	}
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:               "development",
		DBDriver:          "sqlite",
		SQLitePath:        filepath.Join(t.TempDir(), "mccd.db"),
		CORSOrigins:       []string{"*"},
		DefaultRegionCode: "GAR",
		ICDSearchURL:      "http://127.0.0.1:1/search",
		ICDMaxResults:     7,
		WizardSessionTTL:  time.Hour,
	}
}

func newTestServer(t *testing.T) (*server, *metrics.Metrics) {
	t.Helper()
	mt := metrics.New(nil)
	srv, err := newServer(context.Background(), testConfig(t), zerolog.Nop(), mt)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(srv.close)
	return srv, mt
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.echo.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Modes(t *testing.T) {
	cfg := testConfig(t)
	if _, err := authMiddleware(cfg); err != nil {
		t.Errorf("unexpected error in development mode: %v", err)
	}
	cfg.AuthSigningKey = "zz"
	if _, err := authMiddleware(cfg); err == nil {
		t.Error("expected bad signing key rejected")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	if w := srv.do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", w.Code)
	}
	if w := srv.do(http.MethodGet, "/health/db", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 from /health/db, got %d: %s", w.Code, w.Body.String())
	}

	srv.do(http.MethodPost, "/api/v1/wizard/sessions", "{}")
	w := srv.do(http.MethodGet, "/metrics", "")
	if !strings.Contains(w.Body.String(), "mccd_wizard_sessions_active 1") {
		t.Errorf("expected session gauge in metrics output")
	}
}

func TestServer_SaveViewAndAudit(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"record":{
		"deceased_full_name":"Kwame Asante","date_of_birth":"1950-02-11","gender":"male",
		"date_of_death":"2024-03-01","cause_a_description":"Sepsis","manner_of_death":"disease"},
		"status":"submitted"}`
	w := srv.do(http.MethodPost, "/api/v1/certificates", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res certificate.SaveResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !regexp.MustCompile(`^GAR-\d{8}-0001$`).MatchString(res.SerialNumber) {
		t.Errorf("unexpected serial %q", res.SerialNumber)
	}

	path := "/api/v1/certificates/" + res.CertificateID.String()
	w = srv.do(http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var cert certificate.Certificate
	json.Unmarshal(w.Body.Bytes(), &cert)
	if !cert.Editable || cert.DaysRemaining == nil {
		t.Errorf("expected editable certificate with days remaining, got %+v", cert)
	}

	w = srv.do(http.MethodGet, path+"/audit", "")
	var trail struct {
		Data []certificate.AuditEntry `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &trail)
	var actions []string
	for _, e := range trail.Data {
		actions = append(actions, e.Action)
	}
	if strings.Join(actions, ",") != "created,viewed" {
		t.Errorf("expected created,viewed, got %v", actions)
	}
}

func TestServer_WizardLockedView(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := srv.do(http.MethodPost, "/api/v1/wizard/sessions", `{"certificate_id":"6f1c2a4e-8d7b-4c1a-9e3f-2b5d7a9c1e04"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown certificate, got %d", w.Code)
	}
}
