package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/chatforge/conversation"
	"github.com/sweetpotato0/chatforge/provider"
	"github.com/sweetpotato0/chatforge/store"
)

const testAPIKey = "test-endpoint-key"

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	return &provider.Response{Content: "echo: " + last.Content}, nil
}

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	manager := conversation.NewManager(
		conversation.WithStore(st),
		conversation.WithProvider(echoProvider{}),
	)
	return NewServer(manager, testAPIKey), st
}

func doJSON(t *testing.T, s *Server, path string, body map[string]any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", apiKey)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func createConversation(t *testing.T, s *Server) (id, secret string) {
	t.Helper()
	rec := doJSON(t, s, "/conversation/create", map[string]any{
		"personality": map[string]any{"name": "Greeter"},
		"users": []map[string]string{
			{"id": "u1", "name": "Alice"},
			{"id": "u2", "name": "Bob"},
		},
	}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created.ID, created.Secret
}

func TestAuthorization(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "/conversation/create", map[string]any{}, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing key status = %d, want 403", rec.Code)
	}
	rec = doJSON(t, s, "/conversation/create", map[string]any{}, "wrong-key")
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", rec.Code)
	}

	// Bearer prefix is accepted.
	rec = doJSON(t, s, "/conversation/finish", map[string]any{"secret": "nope"}, "Bearer "+testAPIKey)
	if rec.Code == http.StatusForbidden {
		t.Errorf("bearer-prefixed key rejected")
	}
}

func TestCreateNamelessPersonalityRejected(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "/conversation/create", map[string]any{
		"personality": map[string]any{"bio": []string{"no name given"}},
		"users":       []map[string]string{{"id": "u1", "name": "Alice"}},
	}, testAPIKey)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndSend(t *testing.T) {
	s, _ := newTestServer(t)
	_, secret := createConversation(t, s)

	rec := doJSON(t, s, "/conversation/send", map[string]any{
		"secret":  secret,
		"message": "hello",
		"userId":  "u1",
		"context": []map[string]string{{"key": "mood", "value": "sunny"}},
	}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp provider.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if resp.Content != "echo: hello" || resp.Flagged {
		t.Errorf("response = %+v", resp)
	}
}

func TestSendUnknownSecret(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "/conversation/send", map[string]any{
		"secret":  "does-not-exist",
		"message": "hello",
		"userId":  "u1",
	}, testAPIKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendBusyConversation(t *testing.T) {
	s, st := newTestServer(t)
	id, secret := createConversation(t, s)

	// Simulate an in-flight send.
	if ok, err := st.AcquireBusy(context.Background(), id); err != nil || !ok {
		t.Fatalf("AcquireBusy: (%v, %v)", ok, err)
	}

	rec := doJSON(t, s, "/conversation/send", map[string]any{
		"secret":  secret,
		"message": "hello",
		"userId":  "u1",
	}, testAPIKey)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestUpdateAndFinish(t *testing.T) {
	s, _ := newTestServer(t)
	_, secret := createConversation(t, s)

	rec := doJSON(t, s, "/conversation/update", map[string]any{
		"secret": secret,
		"users":  []map[string]string{{"id": "u3", "name": "Carol"}},
	}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Errorf("update status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "/conversation/finish", map[string]any{"secret": secret}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Errorf("finish status = %d: %s", rec.Code, rec.Body.String())
	}

	// The conversation is gone afterwards.
	rec = doJSON(t, s, "/conversation/send", map[string]any{
		"secret":  secret,
		"message": "hello",
		"userId":  "u1",
	}, testAPIKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("send after finish status = %d, want 404", rec.Code)
	}
}

type failingProvider struct{}

func (failingProvider) Complete(context.Context, *provider.Request) (*provider.Response, error) {
	return nil, context.DeadlineExceeded
}

func TestSendProviderFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	manager := conversation.NewManager(
		conversation.WithStore(st),
		conversation.WithProvider(failingProvider{}),
	)
	s := NewServer(manager, testAPIKey)
	_, secret := createConversation(t, s)

	rec := doJSON(t, s, "/conversation/send", map[string]any{
		"secret":  secret,
		"message": "hello",
		"userId":  "u1",
	}, testAPIKey)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}
