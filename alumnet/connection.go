package alumnet

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/internal"
)

// Connection owns the single realtime transport shared by every
// subscription and signal. It is the only component that knows the
// transport credential.
type Connection struct {
	cfg     Config
	logger  Logger
	metrics *Metrics
	notify  notifier

	mu       sync.Mutex
	state    ConnectionState
	socketID string
	cred     Credential
	conn     *internal.Conn
	writeCh  chan Frame
	runCtx   context.Context
	cancel   context.CancelFunc
	gen      uint64
	hs       *handshake
	retry    context.CancelFunc
	retryID  uint64

	frames   func(Frame)
	teardown []func()

	lastRead atomic.Int64
}

// handshake tracks an in-flight connect so shutdown can abort and await it.
type handshake struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

// NewConnection creates a disconnected Connection.
func NewConnection(cfg Config) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateDisconnected,
	}
}

// SetLogger overrides logger (optional).
func (c *Connection) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetMetrics enables metrics collection (optional).
func (c *Connection) SetMetrics(m *Metrics) { c.metrics = m }

// State returns the current transport state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the identifier issued by the server, or "" when not
// connected.
func (c *Connection) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Credential returns the credential the connection was initialized with.
func (c *Connection) Credential() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}

// OnStateChange registers fn for every state transition and returns a
// function that removes it. Listeners run one at a time in transition order
// and may call back into the Connection.
func (c *Connection) OnStateChange(fn func(StateEvent)) (cancel func()) {
	return c.notify.add(fn)
}

// Initialize connects with credential. Calling it again with the same
// credential while connecting or connected is a no-op; a different
// credential tears the current connection down first.
func (c *Connection) Initialize(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return NewError(ErrorInvalidArgument, "credential is required")
	}

	c.mu.Lock()
	state, current := c.state, c.cred.Token
	c.mu.Unlock()

	if current == credential && (state == StateConnecting || state == StateConnected) {
		return nil
	}
	if state != StateDisconnected {
		c.logger.Info("credential changed, tearing down", map[string]any{"state": state.String()})
		if err := c.Terminate(); err != nil {
			return err
		}
	}

	cred, err := ParseCredential(credential)
	return c.connect(ctx, cred, err, true)
}

// Terminate leaves every channel and closes the transport. The credential
// is forgotten; a new Initialize is needed to connect again. Safe to call
// when already terminated.
func (c *Connection) Terminate() error {
	c.shutdown(true)
	return nil
}

// Reconnect disconnects, waits Config.ReconnectDelay and connects again with
// the stored credential. Subscriptions are re-requested once connected.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	cred := c.cred
	c.mu.Unlock()
	if cred.Token == "" {
		return NewError(ErrorNotInitialized, "reconnect requires a prior initialize")
	}

	c.metrics.reconnect("manual")
	c.logger.Info("reconnecting", map[string]any{"delay": c.cfg.ReconnectDelay.String()})
	c.shutdown(false)

	if c.cfg.ReconnectDelay > 0 {
		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return c.connect(ctx, cred, nil, true)
}

// connect runs one handshake. With autoRetry a transport failure hands over
// to scheduleRetry.
func (c *Connection) connect(ctx context.Context, cred Credential, credErr error, autoRetry bool) error {
	c.mu.Lock()
	if !c.setStateLocked(StateConnecting, nil) {
		state := c.state
		c.mu.Unlock()
		return NewError(ErrorConnection, "cannot connect while "+state.String())
	}
	c.cred = cred
	hctx, hcancel := context.WithCancel(ctx)
	hs := &handshake{cancel: hcancel, done: make(chan struct{})}
	c.hs = hs
	c.mu.Unlock()
	c.notify.flush()

	c.logger.Info("connecting", map[string]any{"credential": redact(cred.Token)})

	var (
		conn *internal.Conn
		est  connectionEstablished
		err  = credErr
	)
	if err == nil {
		conn, est, err = c.dial(hctx, cred)
	}
	hcancel()

	c.mu.Lock()
	c.hs = nil
	if err == nil && hs.aborted {
		_ = conn.CloseNow()
		err = NewError(ErrorDisconnected, "connect aborted")
	}
	if err != nil {
		c.setStateLocked(StateError, err)
		c.mu.Unlock()
		close(hs.done)
		c.notify.flush()
		c.logger.Warn("connect failed", map[string]any{"error": err.Error()})
		if autoRetry && !hs.aborted {
			c.scheduleRetry(err)
		}
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.gen++
	gen := c.gen
	c.conn = conn
	c.socketID = est.SocketID
	c.writeCh = make(chan Frame, 64)
	c.runCtx = runCtx
	c.cancel = cancel
	c.lastRead.Store(time.Now().UnixNano())

	go c.readLoop(runCtx, conn, gen)
	go c.writeLoop(runCtx, conn, c.writeCh, gen)
	if est.ActivityTimeout > 0 {
		go c.keepalive(runCtx, time.Duration(est.ActivityTimeout)*time.Second)
	}

	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()
	close(hs.done)

	c.logger.Info("connected", map[string]any{"socket_id": est.SocketID, "activity_timeout": est.ActivityTimeout})
	c.notify.flush()
	return nil
}

// dial performs the websocket upgrade and waits for the server's
// connection_established frame.
func (c *Connection) dial(ctx context.Context, cred Credential) (*internal.Conn, connectionEstablished, error) {
	var est connectionEstablished

	u, err := c.cfg.WebSocketURL()
	if err != nil {
		return nil, est, err
	}

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	conn, resp, err := internal.Dial(ctx, u, internal.Options{
		Header:       header,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, est, WrapError(ErrorUnauthorized, "upgrade rejected", err)
		}
		return nil, est, dialError("dial", ctx, err)
	}

	var f Frame
	if err := conn.Read(ctx, &f); err != nil {
		_ = conn.CloseNow()
		return nil, est, dialError("read handshake", ctx, err)
	}

	switch f.Event {
	case eventConnectionEstablished:
		if err := UnmarshalData(f.Data, &est); err != nil {
			_ = conn.CloseNow()
			return nil, est, WrapError(ErrorProtocol, "decode connection_established", err)
		}
		if est.SocketID == "" {
			_ = conn.CloseNow()
			return nil, est, NewError(ErrorProtocol, "server issued no socket id")
		}
	case eventError:
		var pe protocolError
		_ = UnmarshalData(f.Data, &pe)
		_ = conn.CloseNow()
		if pe.unauthorized() {
			return nil, est, NewError(ErrorUnauthorized, pe.Message)
		}
		return nil, est, NewError(ErrorProtocol, "handshake refused: "+pe.Message)
	default:
		_ = conn.CloseNow()
		return nil, est, NewError(ErrorProtocol, "unexpected first frame "+f.Event)
	}

	if c.cfg.ReadTimeout == 0 && est.ActivityTimeout > 0 {
		conn.SetReadTimeout(time.Duration(est.ActivityTimeout)*time.Second + 30*time.Second)
	}
	return conn, est, nil
}

func dialError(op string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return WrapError(ErrorTimeout, op+" timed out", err)
	}
	return WrapError(ErrorConnection, op, err)
}

// shutdown closes the transport and moves to disconnected. When leave is
// set the registry leaves its channels first and the credential is dropped.
func (c *Connection) shutdown(leave bool) {
	c.mu.Lock()
	if c.retry != nil {
		c.retry()
		c.retry = nil
	}
	hs := c.hs
	if hs != nil {
		hs.aborted = true
	}
	var hooks []func()
	if leave {
		hooks = append(hooks, c.teardown...)
	}
	c.mu.Unlock()

	if hs != nil {
		hs.cancel()
		<-hs.done
	}
	for _, fn := range hooks {
		fn()
	}

	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel, c.writeCh, c.runCtx = nil, nil, nil, nil
	c.socketID = ""
	c.gen++
	if c.state == StateConnected || c.state == StateError {
		c.setStateLocked(StateDisconnected, nil)
	}
	if leave {
		c.cred = Credential{}
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	c.notify.flush()
}

// lost handles a transport failure on generation gen.
func (c *Connection) lost(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel, c.writeCh, c.runCtx = nil, nil, nil, nil
	c.socketID = ""
	c.setStateLocked(StateError, err)
	c.mu.Unlock()

	cancel()
	_ = conn.CloseNow()
	c.logger.Warn("connection lost", map[string]any{"error": err.Error()})
	c.notify.flush()
	c.scheduleRetry(err)
}

// scheduleRetry starts automatic reconnection after a transport error when
// enabled. Authentication failures are never retried.
func (c *Connection) scheduleRetry(cause error) {
	if !c.cfg.AutoReconnect || IsAuthError(cause) || KindOf(cause) == KindClient {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.retry != nil || c.cred.Token == "" {
		c.mu.Unlock()
		cancel()
		return
	}
	c.retryID++
	id := c.retryID
	c.retry = cancel
	cred := c.cred
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			if c.retryID == id {
				c.retry = nil
			}
			c.mu.Unlock()
			cancel()
		}()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.cfg.ReconnectInterval
		b.MaxInterval = c.cfg.MaxReconnectDelay

		attempt := 0
		op := func() (struct{}, error) {
			attempt++
			c.metrics.reconnect("auto")
			if err := c.redial(ctx, cred); err != nil {
				if IsAuthError(err) || ctx.Err() != nil {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}
			return struct{}{}, nil
		}

		opts := []backoff.RetryOption{
			backoff.WithBackOff(b),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Info("reconnect attempt failed", map[string]any{"attempt": attempt, "next": next.String(), "error": err.Error()})
			}),
		}
		if c.cfg.MaxReconnectTries > 0 {
			opts = append(opts, backoff.WithMaxTries(uint(c.cfg.MaxReconnectTries)))
		}

		timer := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		if _, err := backoff.Retry(ctx, op, opts...); err != nil && ctx.Err() == nil {
			c.logger.Warn("giving up on reconnect", map[string]any{"attempts": attempt, "error": err.Error()})
		}
	}()
}

// redial moves error -> disconnected -> connecting for one retry attempt.
func (c *Connection) redial(ctx context.Context, cred Credential) error {
	c.mu.Lock()
	if c.state != StateError {
		state := c.state
		c.mu.Unlock()
		return backoff.Permanent(NewError(ErrorDisconnected, "reconnect abandoned, state is "+state.String()))
	}
	c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()
	c.notify.flush()

	return c.connect(ctx, cred, nil, false)
}

func (c *Connection) readLoop(ctx context.Context, conn *internal.Conn, gen uint64) {
	for {
		var f Frame
		if err := conn.Read(ctx, &f); err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.lost(gen, WrapError(ErrorDisconnected, "read failed", err))
			return
		}
		c.lastRead.Store(time.Now().UnixNano())

		switch f.Event {
		case eventPing:
			pong, _ := newFrame(eventPong, "", nil)
			c.trySend(pong)
		case eventPong:
		case eventError:
			var pe protocolError
			if err := UnmarshalData(f.Data, &pe); err == nil && pe.fatal() {
				code := ErrorProtocol
				if pe.unauthorized() {
					code = ErrorUnauthorized
				}
				c.lost(gen, NewError(code, pe.Message))
				return
			}
			c.logger.Warn("server error", map[string]any{"data": string(f.Data)})
		default:
			c.mu.Lock()
			handler, current := c.frames, c.gen == gen
			c.mu.Unlock()
			if !current {
				return
			}
			if handler != nil {
				handler(f)
			}
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, conn *internal.Conn, ch <-chan Frame, gen uint64) {
	for {
		select {
		case f := <-ch:
			if err := conn.Write(ctx, f); err != nil {
				if isExpectedDisconnect(ctx, err) {
					return
				}
				c.lost(gen, WrapError(ErrorDisconnected, "write failed", err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// keepalive pings the server when nothing was read for interval.
func (c *Connection) keepalive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			last := time.Unix(0, c.lastRead.Load())
			if time.Since(last) >= interval {
				ping, _ := newFrame(eventPing, "", nil)
				c.trySend(ping)
			}
		}
	}
}

// send queues f for the write loop, blocking until queued or ctx is done.
func (c *Connection) send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	ch, run, state := c.writeCh, c.runCtx, c.state
	c.mu.Unlock()
	if state != StateConnected || ch == nil {
		return NewError(ErrorNotConnected, "connection is "+state.String())
	}
	select {
	case ch <- f:
		return nil
	case <-run.Done():
		return NewError(ErrorDisconnected, "connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend queues f without blocking and reports whether it was queued.
func (c *Connection) trySend(f Frame) bool {
	c.mu.Lock()
	ch, state := c.writeCh, c.state
	c.mu.Unlock()
	if state != StateConnected || ch == nil {
		return false
	}
	select {
	case ch <- f:
		return true
	default:
		return false
	}
}

// writeNow writes f on the socket immediately, bypassing the queue. Used
// during teardown where the write loop may already be gone.
func (c *Connection) writeNow(ctx context.Context, f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return NewError(ErrorNotConnected, "no transport")
	}
	return conn.Write(ctx, f)
}

// setFrameHandler installs the receiver of channel frames.
func (c *Connection) setFrameHandler(fn func(Frame)) {
	c.mu.Lock()
	c.frames = fn
	c.mu.Unlock()
}

// onTerminate registers fn to run on Terminate while the socket is still up.
func (c *Connection) onTerminate(fn func()) {
	c.mu.Lock()
	c.teardown = append(c.teardown, fn)
	c.mu.Unlock()
}

// setStateLocked applies a transition and queues its notification.
// Caller holds c.mu.
func (c *Connection) setStateLocked(to ConnectionState, err error) bool {
	from := c.state
	if !canTransition(from, to) {
		c.logger.Warn("invalid state transition", map[string]any{"from": from.String(), "to": to.String()})
		return false
	}
	c.state = to
	c.metrics.stateChanged(from, to)
	ev := StateEvent{OldState: from, NewState: to, Error: err}
	if to == StateConnected {
		ev.SocketID = c.socketID
	}
	c.notify.push(ev)
	return true
}

// isExpectedDisconnect reports whether a read or write failed because we
// closed the connection ourselves.
func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// notifier delivers state events one at a time, in the order they were
// pushed, on a goroutine of its own. Listeners may call back into the
// Connection, including Terminate.
type notifier struct {
	mu        sync.Mutex
	queue     []StateEvent
	draining  bool
	listeners []listener
	nextID    uint64
}

type listener struct {
	id uint64
	fn func(StateEvent)
}

func (n *notifier) add(fn func(StateEvent)) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listener{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, l := range n.listeners {
			if l.id == id {
				n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) push(ev StateEvent) {
	n.mu.Lock()
	n.queue = append(n.queue, ev)
	n.mu.Unlock()
}

// flush starts delivery of queued events unless a drain is already running.
func (n *notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.draining || len(n.queue) == 0 {
		return
	}
	n.draining = true
	go n.drain()
}

func (n *notifier) drain() {
	n.mu.Lock()
	for len(n.queue) > 0 {
		ev := n.queue[0]
		n.queue = n.queue[1:]
		ls := append([]listener(nil), n.listeners...)
		n.mu.Unlock()
		for _, l := range ls {
			l.fn(ev)
		}
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}
