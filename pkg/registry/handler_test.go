package registry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilnworks/companykernel/internal/httpserver"
)

func newTestRouter() (*Registry, chi.Router) {
	reg := New()
	h := NewHandler(reg)
	router := chi.NewRouter()
	h.Routes(router)
	return reg, router
}

func TestHandleRegisterAgent(t *testing.T) {
	_, router := newTestRouter()

	body := `{"name":"scout-1","kind":"worker","goals":["patrol"]}`
	r := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestHandleRegisterAgent_MissingName(t *testing.T) {
	_, router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(`{"kind":"worker"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleGetAgent_NotFound(t *testing.T) {
	_, router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/agents/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleListAgents_Pagination(t *testing.T) {
	reg, router := newTestRouter()
	for _, name := range []string{"a", "b", "c"} {
		reg.RegisterAgent(Agent{Name: name}, time.Now())
	}

	r := httptest.NewRequest(http.MethodGet, "/agents?page_size=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"total_items":3`) {
		t.Errorf("expected total_items 3 in body, got %s", w.Body.String())
	}
}

func TestHandleListAgents_BadPageParam(t *testing.T) {
	_, router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/agents?page=0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleRegisterTool_MissingName(t *testing.T) {
	_, router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/tools", strings.NewReader(`{"description":"no name"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandlePolicyCheck(t *testing.T) {
	reg, router := newTestRouter()
	reg.RegisterAgent(Agent{Name: "scout-1", Goals: []string{"patrol"}}, time.Now())
	reg.RegisterTool(Tool{Name: "camera"}, time.Now())

	body := `{"agentName":"scout-1","goal":"patrol","toolName":"camera"}`
	r := httptest.NewRequest(http.MethodPost, "/policy/check", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"agentKnown":true`) {
		t.Errorf("expected agentKnown true in body, got %s", w.Body.String())
	}
}

func TestPageSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	got := pageSlice(items, httpserver.OffsetParams{Offset: 0, PageSize: 2})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("pageSlice(offset=0,size=2) = %v", got)
	}

	got = pageSlice(items, httpserver.OffsetParams{Offset: 4, PageSize: 10})
	if len(got) != 1 || got[0] != 5 {
		t.Errorf("pageSlice(offset=4,size=10) = %v", got)
	}

	got = pageSlice(items, httpserver.OffsetParams{Offset: 10, PageSize: 2})
	if len(got) != 0 {
		t.Errorf("pageSlice(offset beyond end) = %v, want empty", got)
	}
}
