package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orbitmesh/swim"
)

type fakeMembers map[swim.MemberID]swim.MemberState

func (f fakeMembers) Snapshot() map[swim.MemberID]swim.MemberState { return f }

func TestHandleHealthz(t *testing.T) {
	srv := NewServer(fakeMembers{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleListMembers(t *testing.T) {
	members := fakeMembers{
		1: {Status: swim.StatusAlive, Incarnation: 3},
		2: {Status: swim.StatusSuspect, Incarnation: 1, Delay: 200 * time.Millisecond},
	}
	srv := NewServer(members)

	req := httptest.NewRequest(http.MethodGet, "/v1/members/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var rows []memberView
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 members, got %d", len(rows))
	}
}

func TestHandleGetMember(t *testing.T) {
	members := fakeMembers{5: {Status: swim.StatusAlive, Incarnation: 9}}
	srv := NewServer(members)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/members/5", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var row memberView
		if err := json.Unmarshal(w.Body.Bytes(), &row); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if row.Status != "ALIVE" {
			t.Errorf("expected status ALIVE, got %q", row.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/members/999", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/members/not-a-number", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestMetricsRouteDisabledByDefault(t *testing.T) {
	srv := NewServer(fakeMembers{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics to be unmounted by default, got %d", w.Code)
	}
}

func TestMetricsRouteEnabled(t *testing.T) {
	srv := NewServer(fakeMembers{})
	srv.EnableMetrics()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
