package credhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentsync/internal/domain"
)

func TestCredentialFetch(t *testing.T) {
	want := domain.AuthCredential{
		AgentID:    7,
		Client:     "0xclient",
		IndexLimit: 3,
		ExpiresAt:  time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Ref:        "cred-7",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/credentials/7/0xclient" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := client.Credential(context.Background(), 7, "0xclient")
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if got.AgentID != want.AgentID || got.IndexLimit != want.IndexLimit || got.Ref != want.Ref {
		t.Fatalf("credential mismatch: %+v", got)
	}
}

func TestCredentialIssuerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Credential(context.Background(), 1, "0xclient"); !domain.IsTransient(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
}
