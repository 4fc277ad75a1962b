package alumnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// fakeServer speaks enough of the Pusher protocol to drive a Connection.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	seq      int
	conns    []*websocket.Conn
	received []Frame
	headers  []http.Header
	reject   int    // HTTP status for the upgrade, 0 accepts
	first    *Frame // replaces connection_established when set
	refuse   map[string]bool
	confirm  bool
	activity int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{t: t, confirm: true, refuse: make(map[string]bool)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.dropAll()
		s.srv.Close()
	})
	return s
}

func (s *fakeServer) config() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/app/test-key?protocol=7"
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	return cfg
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	reject, first, activity := s.reject, s.first, s.activity
	s.mu.Unlock()

	if reject != 0 {
		http.Error(w, "denied", reject)
		return
	}
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer ws.CloseNow()

	s.mu.Lock()
	s.seq++
	socketID := fmt.Sprintf("%d.%d", 1000+s.seq, s.seq)
	s.conns = append(s.conns, ws)
	s.mu.Unlock()

	ctx := r.Context()
	if first != nil {
		_ = wsjson.Write(ctx, ws, first)
		return
	}
	est, _ := json.Marshal(connectionEstablished{SocketID: socketID, ActivityTimeout: activity})
	hello := Frame{Event: eventConnectionEstablished, Data: json.RawMessage(strconv.Quote(string(est)))}
	if err := wsjson.Write(ctx, ws, hello); err != nil {
		return
	}

	for {
		var f Frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, f)
		confirm := s.confirm
		s.mu.Unlock()

		switch f.Event {
		case eventSubscribe:
			var p subscribePayload
			_ = UnmarshalData(f.Data, &p)
			s.mu.Lock()
			refused := s.refuse[p.Channel]
			s.mu.Unlock()
			if refused {
				_ = wsjson.Write(ctx, ws, Frame{Event: eventSubscriptionError, Channel: p.Channel, Data: json.RawMessage(`{"type":"AuthError","error":"forbidden","status":403}`)})
				continue
			}
			if confirm {
				_ = wsjson.Write(ctx, ws, Frame{Event: eventSubscriptionSucceeded, Channel: p.Channel, Data: json.RawMessage(`{}`)})
			}
		case eventPing:
			_ = wsjson.Write(ctx, ws, Frame{Event: eventPong, Data: json.RawMessage(`{}`)})
		}
	}
}

// push sends a frame to the most recent connection.
func (s *fakeServer) push(f Frame) {
	s.t.Helper()
	s.mu.Lock()
	var ws *websocket.Conn
	if len(s.conns) > 0 {
		ws = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	if ws == nil {
		s.t.Fatalf("push: no connection")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, f); err != nil {
		s.t.Fatalf("push: %v", err)
	}
}

func (s *fakeServer) pushEvent(channel, event string, payload any) {
	s.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		s.t.Fatalf("marshal: %v", err)
	}
	s.push(Frame{Event: event, Channel: channel, Data: json.RawMessage(strconv.Quote(string(raw)))})
}

// dropAll closes every server side socket without a close handshake.
func (s *fakeServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, ws := range conns {
		_ = ws.CloseNow()
	}
}

// count returns how many frames with event were received for channel.
// The channel is read from the subscribe payload where the frame has none.
func (s *fakeServer) count(event, channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.received {
		if f.Event != event {
			continue
		}
		ch := f.Channel
		if ch == "" {
			var p unsubscribePayload
			_ = UnmarshalData(f.Data, &p)
			ch = p.Channel
		}
		if ch == channel {
			n++
		}
	}
	return n
}

func (s *fakeServer) frames(event string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Frame
	for _, f := range s.received {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// fakeAuth signs every channel except the refused ones.
type fakeAuth struct {
	mu     sync.Mutex
	refuse map[string]bool
	calls  []string
}

func (a *fakeAuth) AuthorizeChannel(_ context.Context, socketID, channel string) (*rest.ChannelAuth, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, socketID+" "+channel)
	if a.refuse[channel] {
		return nil, &rest.APIError{StatusCode: http.StatusForbidden, Message: "This action is unauthorized."}
	}
	return &rest.ChannelAuth{Auth: "test-key:sig-" + channel}, nil
}

func (a *fakeAuth) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// gatedAuth holds authorization of one channel until release is called.
// Other channels are signed at once.
type gatedAuth struct {
	fakeAuth
	channel string
	entered chan struct{}
	gate    chan struct{}
}

func newGatedAuth(channel string) *gatedAuth {
	return &gatedAuth{channel: channel, entered: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (a *gatedAuth) AuthorizeChannel(ctx context.Context, socketID, channel string) (*rest.ChannelAuth, error) {
	if channel == a.channel {
		select {
		case a.entered <- struct{}{}:
		default:
		}
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.fakeAuth.AuthorizeChannel(ctx, socketID, channel)
}

// waitEntered blocks until the gated channel is being authorized.
func (a *gatedAuth) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-a.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("authorization of %s never started", a.channel)
	}
}

func (a *gatedAuth) release() { close(a.gate) }

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connect returns a connected Connection and registry against s.
func connect(t *testing.T, s *fakeServer, auth Authorizer) (*Connection, *Registry) {
	t.Helper()
	conn := NewConnection(s.config())
	reg := NewRegistry(conn, auth)
	if err := conn.Initialize(context.Background(), "opaque-token"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = conn.Terminate() })
	return conn, reg
}

// stateRecorder collects state events delivered to a listener.
type stateRecorder struct {
	mu     sync.Mutex
	events []StateEvent
}

func (r *stateRecorder) record(ev StateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *stateRecorder) states() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.NewState
	}
	return out
}

func (r *stateRecorder) last() StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return StateEvent{}
	}
	return r.events[len(r.events)-1]
}
