package facility

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mccd/mccd/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *mockRepo, *echo.Echo) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	cat, _ := ParseCatalog([]byte(sampleCatalog))
	if _, err := svc.Import(t.Context(), cat); err != nil {
		t.Fatal(err)
	}
	return NewHandler(svc), repo, echo.New()
}

func TestHandler_ListRegions(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/regions", nil), rec)
	if err := h.ListRegions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data []Region `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Data) != 2 {
		t.Errorf("expected 2 regions, got %d", len(body.Data))
	}
}

func TestHandler_ListDistricts(t *testing.T) {
	h, repo, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(repo.regions["ASR"].ID.String())
	if err := h.ListDistricts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data []District `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Data) != 1 || body.Data[0].Code != "KMA" {
		t.Errorf("unexpected districts %+v", body.Data)
	}
}

func TestHandler_ListFacilities_InvalidID(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bad")
	err := h.ListFacilities(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetProfile(t *testing.T) {
	h, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.DevUserID, "Dev Doctor", []string{auth.RoleDoctor}))
	rec := httptest.NewRecorder()
	if err := h.GetProfile(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p UserProfile
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.FullName != "Dev Doctor" {
		t.Errorf("expected Dev Doctor, got %s", p.FullName)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), uuid.New().String(), "Nobody", []string{auth.RoleDoctor}))
	err := h.GetProfile(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}

	err = h.GetProfile(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
