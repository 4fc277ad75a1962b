package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginDecodesTokenAndUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("login must not carry a bearer, got %q", got)
		}
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "ada@example.com" || req.Password != "secret" {
			t.Errorf("unexpected body: %+v", req)
		}
		_, _ = io.WriteString(w, `{"token":"1|abc","user":{"id":7,"name":"Ada","email":"ada@example.com"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/api")
	resp, err := c.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Token != "1|abc" || resp.User.ID != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAuthenticatedRequestsCarryBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("tok")
	if _, err := c.GetMessages(context.Background(), 3); err != nil {
		t.Fatalf("get messages: %v", err)
	}
}

func TestUnauthorizedIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Unauthenticated."}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Profile(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Message != "Unauthenticated." {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"invalid","errors":{"message":["The message field is required."]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.SendMessage(context.Background(), 2, "")
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := err.(*APIError).Errors["message"]; len(got) != 1 {
		t.Errorf("field errors = %v", got)
	}
}

func TestListAcceptsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":1,"title":"Reunion","status":"published","date":"2025-06-01T18:00:00Z"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	events, err := c.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Reunion" || events[0].Status != EventStatusPublished {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSendMessageReturnsStoredRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Message != "hello" {
			t.Errorf("message = %q", body.Message)
		}
		_, _ = io.WriteString(w, `{"id":41,"sender_id":1,"receiver_id":9,"text":"hello","created_at":"2025-01-02T03:04:05.000000Z"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	msg, err := c.SendMessage(context.Background(), 9, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != 41 || msg.ReceiverID != 9 || msg.CreatedAt.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRosterIsCachedUntilWrite(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits.Add(1)
			_, _ = io.WriteString(w, `[{"id":1,"name":"Ada"}]`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("tok")
	ctx := context.Background()
	for range 3 {
		if _, err := c.ListUsers(ctx); err != nil {
			t.Fatalf("list users: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("GET hits = %d, want 1", got)
	}

	if err := c.RegisterForEvent(ctx, 5); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := c.ListUsers(ctx); err != nil {
		t.Fatalf("list users: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("GET hits after write = %d, want 2", got)
	}
}

func TestHistoryIsNeverCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetCacheTTL(time.Minute)
	for range 2 {
		if _, err := c.GetMessages(context.Background(), 1); err != nil {
			t.Fatalf("get messages: %v", err)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("GET hits = %d, want 2", got)
	}
}

func TestAuthorizeChannelPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/broadcasting/auth" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		if form.Get("socket_id") != "123.456" || form.Get("channel_name") != "private-chat.1" {
			t.Errorf("form = %v", form)
		}
		_, _ = io.WriteString(w, `{"auth":"key:sig"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/api")
	c.SetToken("tok")
	auth, err := c.AuthorizeChannel(context.Background(), "123.456", "private-chat.1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Auth != "key:sig" {
		t.Fatalf("auth = %q", auth.Auth)
	}
}

func TestAuthorizeChannelRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.AuthorizeChannel(context.Background(), "1.1", "private-chat.2"); !IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
