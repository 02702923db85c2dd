package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibetunnel/vtserver/internal/auth"
	"github.com/vibetunnel/vtserver/internal/session"
	"github.com/vibetunnel/vtserver/internal/wsbuffer"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	mgr := session.NewManager(t.TempDir())
	hub := wsbuffer.NewHub(mgr)
	router := NewRouter(Options{Sessions: mgr, Hub: hub, Auth: auth.Config{Disabled: true}})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		mgr.Stop()
	})
	return srv, mgr
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	cols, rows := 80, 24
	createBody, _ := json.Marshal(createSessionRequest{Command: []string{"/bin/sh", "-i"}, Cols: &cols, Rows: &rows})
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("POST /api/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a non-empty session id")
	}

	listResp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	defer listResp.Body.Close()
	var list []sessionResponse
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	found := false
	for _, s := range list {
		if s.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected created session %s in list %+v", created.ID, list)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+created.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/sessions/:id: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/api/sessions/" + created.ID)
	if err != nil {
		t.Fatalf("GET after delete: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getResp.StatusCode)
	}
}

func TestResizeRejectsNonPositiveDimensions(t *testing.T) {
	srv, mgr := newTestServer(t)
	cols, rows := 80, 24
	s, err := mgr.Create(session.CreateOptions{Command: []string{"/bin/sh", "-i"}, Cols: &cols, Rows: &rows})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer mgr.Kill(s.ID)

	body, _ := json.Marshal(resizeRequest{Cols: 0, Rows: 0})
	resp, err := http.Post(srv.URL+"/api/sessions/"+s.ID+"/resize", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST resize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-positive dimensions, got %d", resp.StatusCode)
	}
}
