package alumnet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
	"github.com/vovakirdan/alumnet-sdk-go/alumnet/store"
)

// fakeAPI is a minimal REST backend with one account.
type fakeAPI struct {
	srv *httptest.Server

	mu       sync.Mutex
	accepted map[string]bool
	logouts  int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	a := &fakeAPI{accepted: make(map[string]bool)}
	user := rest.User{ID: me, Name: "Me", Email: "me@example.com"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req rest.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "These credentials do not match our records."})
			return
		}
		a.mu.Lock()
		a.accepted["tok-1"] = true
		a.mu.Unlock()
		writeJSON(w, http.StatusOK, rest.AuthResponse{Token: "tok-1", User: user})
	})
	mux.HandleFunc("GET /user", a.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": user})
	}))
	mux.HandleFunc("POST /logout", a.authed(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		delete(a.accepted, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		a.logouts++
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /users", a.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []rest.User{user, {ID: bob, Name: "Bob"}})
	}))
	mux.HandleFunc("GET /messages/{peer}", a.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []rest.Message{msg(1, bob, me, 1)})
	}))
	mux.HandleFunc("POST /broadcasting/auth", a.authed(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		writeJSON(w, http.StatusOK, rest.ChannelAuth{Auth: "test-key:sig-" + r.PostForm.Get("channel_name")})
	}))

	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAPI) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		a.mu.Lock()
		ok := a.accepted[token]
		a.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		h(w, r)
	}
}

func (a *fakeAPI) revoke(token string) {
	a.mu.Lock()
	delete(a.accepted, token)
	a.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, ws *fakeServer, api *fakeAPI, dir string) *Client {
	t.Helper()
	cfg := ws.config()
	cfg.RESTBaseURL = api.srv.URL
	cfg.StoreDir = dir
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientRequiresRESTBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://localhost/app/key"
	if _, err := NewClient(cfg); !errors.Is(err, NewError(ErrorInvalidConfig, "")) {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestLoginConnectsAndSavesSession(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	user, err := c.Login(context.Background(), "me@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != me || c.CurrentUser().ID != me {
		t.Fatalf("user = %+v", user)
	}
	if c.Connection().State() != StateConnected {
		t.Fatalf("state = %v, want connected", c.Connection().State())
	}
	sess, err := c.store.Load(context.Background())
	if err != nil || sess.Token != "tok-1" {
		t.Fatalf("saved session = %+v err = %v", sess, err)
	}

	ws.mu.Lock()
	auth := ws.headers[0].Get("Authorization")
	ws.mu.Unlock()
	if auth != "Bearer tok-1" {
		t.Fatalf("websocket authorization = %q", auth)
	}
}

func TestLoginFailureLeavesClientSignedOut(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	_, err := c.Login(context.Background(), "me@example.com", "wrong")
	if !errors.Is(err, NewError(ErrorRequest, "")) {
		t.Fatalf("err = %v, want request error", err)
	}
	if c.CurrentUser() != nil || ws.connections() != 0 {
		t.Fatalf("failed login started a session")
	}
}

func TestRestoreResumesPersistedSession(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	dir := t.TempDir()

	first := newTestClient(t, ws, api, dir)
	if _, err := first.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := newTestClient(t, ws, api, dir)
	user, err := second.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if user.ID != me {
		t.Fatalf("user = %+v", user)
	}
	if second.Connection().State() != StateConnected {
		t.Fatalf("state = %v", second.Connection().State())
	}
}

func TestRestoreWithoutSession(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	if _, err := c.Restore(context.Background()); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("err = %v, want no session", err)
	}
}

func TestRestoreRevokedCredentialClearsSession(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, t.TempDir())

	if _, err := c.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	api.revoke("tok-1")
	c.REST.SetCacheTTL(0)

	_, err := c.Restore(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if c.CurrentUser() != nil {
		t.Fatalf("user kept after revoked credential")
	}
	if c.Connection().State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.Connection().State())
	}
	if _, err := c.store.Load(context.Background()); !errors.Is(err, store.ErrNoSession) {
		t.Fatalf("session kept: %v", err)
	}
}

func TestLogoutDisconnectsAndClears(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	if _, err := c.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	chat, err := c.OpenChat(context.Background())
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	inbox, _ := c.Registry().Lookup(ChatChannel(me))
	waitFor(t, "inbox active", func() bool { return inbox.Status() == SubscriptionActive })

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if c.Connection().State() != StateDisconnected {
		t.Fatalf("state = %v", c.Connection().State())
	}
	if c.CurrentUser() != nil || c.REST.Token() != "" {
		t.Fatalf("session not cleared")
	}
	if len(c.Registry().Channels()) != 0 || chat.Peer() != 0 {
		t.Fatalf("chat state survived logout")
	}
	api.mu.Lock()
	logouts := api.logouts
	api.mu.Unlock()
	if logouts != 1 {
		t.Fatalf("server logouts = %d, want 1", logouts)
	}
	if _, err := c.OpenChat(context.Background()); !errors.Is(err, NewError(ErrorNotInitialized, "")) {
		t.Fatalf("open chat after logout: %v", err)
	}
}

func TestOpenChatBeforeLogin(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	if _, err := c.OpenChat(context.Background()); !errors.Is(err, NewError(ErrorNotInitialized, "")) {
		t.Fatalf("err = %v, want not initialized", err)
	}
}

func TestOpenChatEndToEnd(t *testing.T) {
	ws, api := newFakeServer(t), newFakeAPI(t)
	c := newTestClient(t, ws, api, "")

	if _, err := c.Login(context.Background(), "me@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	chat, err := c.OpenChat(context.Background())
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	again, _ := c.OpenChat(context.Background())
	if again != chat {
		t.Fatalf("second OpenChat returned a new chat")
	}

	peers, err := chat.Peers(context.Background())
	if err != nil || len(peers) != 1 || peers[0].ID != bob {
		t.Fatalf("peers = %+v err = %v", peers, err)
	}
	if err := chat.Select(context.Background(), bob); err != nil {
		t.Fatalf("select: %v", err)
	}
	if n := len(chat.Messages()); n != 1 {
		t.Fatalf("history = %d, want 1", n)
	}
	waitFor(t, "signed subscribe", func() bool { return ws.count(eventSubscribe, ChatChannel(bob)) == 1 })

	var p subscribePayload
	for _, f := range ws.frames(eventSubscribe) {
		var q subscribePayload
		_ = UnmarshalData(f.Data, &q)
		if q.Channel == ChatChannel(bob) {
			p = q
		}
	}
	if p.Auth != "test-key:sig-private-chat.2" {
		t.Fatalf("auth = %q", p.Auth)
	}
}
