package trace

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandlerRouter() (*Store, http.Handler) {
	store := NewStore(slog.Default())
	h := NewHandler(store)
	return store, h.Routes()
}

func TestHandleCreate(t *testing.T) {
	store, router := newTestHandlerRouter()

	body := `{"missionId":"m-1","kind":"CLAIMED","detail":{"agent":"scout-1"}}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if events := store.ForMission("m-1"); len(events) != 1 || events[0].Kind != "CLAIMED" {
		t.Errorf("expected one CLAIMED event recorded, got %+v", events)
	}
}

func TestHandleCreate_MissingKind(t *testing.T) {
	_, router := newTestHandlerRouter()

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"missionId":"m-1"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestHandleList(t *testing.T) {
	store, router := newTestHandlerRouter()
	store.Record(Event{Kind: "TICK"})
	store.Record(Event{Kind: "TICK"})

	r := httptest.NewRequest(http.MethodGet, "/?limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandleForMission_Empty(t *testing.T) {
	_, router := newTestHandlerRouter()

	r := httptest.NewRequest(http.MethodGet, "/m-unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array body, got %s", w.Body.String())
	}
}
