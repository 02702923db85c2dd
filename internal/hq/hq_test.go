package hq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistryRegisterListUnregister(t *testing.T) {
	r := NewRegistry()
	rec := r.Register("office-box", "https://remote.example.com", "tok")

	list := r.List()
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("expected one registered remote, got %+v", list)
	}

	got, ok := r.Get(rec.ID)
	if !ok || got.Name != "office-box" {
		t.Fatalf("Get returned unexpected record: %+v ok=%v", got, ok)
	}

	if !r.Unregister(rec.ID) {
		t.Fatal("expected Unregister to report success")
	}
	if r.Unregister(rec.ID) {
		t.Fatal("expected second Unregister to report failure")
	}
}

func TestForwarderListRemoteSessionsTolerateFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": "abc"}})
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	registry := NewRegistry()
	registry.Register("good", good.URL, "")
	registry.Register("bad", bad.URL, "")

	forwarder := NewForwarder(registry)
	sessions := forwarder.ListRemoteSessions(context.Background())

	if len(sessions) != 1 || sessions[0].SessionID != "abc" {
		t.Fatalf("expected one session from the healthy remote, got %+v", sessions)
	}
}

func TestRegisterClientSendsCredentialsAndBody(t *testing.T) {
	var gotUser, gotPass string
	var gotBody registerRequest

	hqServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotUser, gotPass, ok = r.BasicAuth()
		if !ok {
			t.Error("expected basic auth credentials on registration request")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode registration body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer hqServer.Close()

	rc := NewRegisterClient(hqServer.URL, "hqadmin", "s3cret")
	if err := rc.Register(context.Background(), "r-0", "http://remote.example.com:4020", "gentoken"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if gotUser != "hqadmin" || gotPass != "s3cret" {
		t.Fatalf("expected credentials hqadmin/s3cret, got %s/%s", gotUser, gotPass)
	}
	if gotBody.Name != "r-0" || gotBody.URL != "http://remote.example.com:4020" || gotBody.Token != "gentoken" {
		t.Fatalf("unexpected registration body: %+v", gotBody)
	}
}

func TestRunRegisterLoopRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	hqServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer hqServer.Close()

	rc := NewRegisterClient(hqServer.URL, "", "")
	done := make(chan struct{})
	go func() {
		RunRegisterLoop(context.Background(), rc, "r-0", "http://remote.example.com:4020", "tok")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunRegisterLoop did not return after eventual success")
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}
