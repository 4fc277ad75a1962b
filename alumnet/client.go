package alumnet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
	"github.com/vovakirdan/alumnet-sdk-go/alumnet/store"
)

// Client ties the session, the REST API and the realtime layer together.
// The realtime connection lives exactly as long as the authenticated
// session: it is initialized on login or restore and terminated on logout.
type Client struct {
	cfg    Config
	logger Logger

	// REST is the API client. Its bearer token follows the session.
	REST *rest.Client

	store    store.Store
	conn     *Connection
	registry *Registry
	signals  *Signals

	mu      sync.Mutex
	user    *rest.User
	chat    *Chat
	onError func(error)
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
// With cfg.StoreDir set the session is persisted in a SQLite file there.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RESTBaseURL == "" {
		return nil, NewError(ErrorInvalidConfig, "rest_base_url is required")
	}

	var st store.Store = store.NewMemoryStore()
	if cfg.StoreDir != "" {
		s, err := store.Open(cfg.StoreDir)
		if err != nil {
			return nil, WrapError(ErrorInvalidConfig, "open session store", err)
		}
		st = s
	}

	api := rest.NewClient(cfg.RESTBaseURL)
	if ep := cfg.authEndpoint(); ep != "" {
		api.SetAuthEndpoint(ep)
	}

	conn := NewConnection(cfg)
	registry := NewRegistry(conn, api)
	c := &Client{
		cfg:      cfg,
		logger:   noopLogger{},
		REST:     api,
		store:    st,
		conn:     conn,
		registry: registry,
		signals:  NewSignals(registry),
	}
	registry.OnError(c.reportError)
	return c, nil
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.conn.SetLogger(l)
}

// SetMetrics enables metrics collection (optional).
func (c *Client) SetMetrics(m *Metrics) {
	c.conn.SetMetrics(m)
}

// Connection returns the realtime connection manager.
func (c *Client) Connection() *Connection { return c.conn }

// Registry returns the channel subscription registry.
func (c *Client) Registry() *Registry { return c.registry }

// Signals returns the ephemeral signal channel.
func (c *Client) Signals() *Signals { return c.signals }

// OnStateChanged registers a callback for connection state changes.
func (c *Client) OnStateChanged(fn func(StateEvent)) (cancel func()) {
	return c.conn.OnStateChange(fn)
}

// OnError registers callback for errors raised outside a direct call, such
// as subscription rejections during a resubscribe.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// CurrentUser returns the signed-in user, or nil.
func (c *Client) CurrentUser() *rest.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Login authenticates, persists the session and connects the realtime
// layer. The user is returned even when only the realtime connection
// failed; the error then is a transport or auth error.
func (c *Client) Login(ctx context.Context, email, password string) (*rest.User, error) {
	resp, err := c.REST.Login(ctx, rest.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, wrapAPIError(ErrorRequest, "login failed", err)
	}
	return c.startSession(ctx, resp.Token, resp.User)
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, req rest.RegisterRequest) (*rest.User, error) {
	resp, err := c.REST.Register(ctx, req)
	if err != nil {
		return nil, wrapAPIError(ErrorRequest, "registration failed", err)
	}
	return c.startSession(ctx, resp.Token, resp.User)
}

// Restore resumes the persisted session. store.ErrNoSession means nobody is
// signed in. A credential the API no longer accepts clears the session and
// returns ErrorUnauthorized.
func (c *Client) Restore(ctx context.Context) (*rest.User, error) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.REST.SetToken(sess.Token)
	user, err := c.REST.Profile(ctx)
	if err != nil {
		if rest.IsUnauthorized(err) {
			_ = c.endSession(ctx)
			return nil, WrapError(ErrorUnauthorized, "session expired", err)
		}
		c.logger.Warn("profile check failed, using saved identity", map[string]any{"error": err.Error()})
		user = &sess.User
	}
	return c.startSession(ctx, sess.Token, *user)
}

// Logout ends the session. The server is told on a best effort basis; the
// local session is always cleared and the connection terminated.
func (c *Client) Logout(ctx context.Context) error {
	if c.REST.Token() != "" {
		if err := c.REST.Logout(ctx); err != nil {
			c.logger.Warn("server logout failed", map[string]any{"error": err.Error()})
		}
	}
	return c.endSession(ctx)
}

// OpenChat returns the chat of the signed-in user, joining its inbox on
// first use.
func (c *Client) OpenChat(ctx context.Context) (*Chat, error) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return nil, NewError(ErrorNotInitialized, "not logged in")
	}
	if c.chat != nil {
		chat := c.chat
		c.mu.Unlock()
		return chat, nil
	}
	user := *c.user
	c.mu.Unlock()

	chat, err := NewChat(ctx, user, c.REST, c.registry, c.signals, c.cfg.TypingTTL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat != nil {
		// lost a race with another OpenChat; both share the inbox subscription
		return c.chat, nil
	}
	c.chat = chat
	return chat, err
}

// Close terminates the connection and releases the session store. The
// persisted session is kept.
func (c *Client) Close() error {
	c.mu.Lock()
	chat := c.chat
	c.chat = nil
	c.mu.Unlock()
	if chat != nil {
		chat.Close()
	}
	_ = c.conn.Terminate()
	return c.store.Close()
}

func (c *Client) startSession(ctx context.Context, token string, user rest.User) (*rest.User, error) {
	c.REST.SetToken(token)
	if err := c.store.Save(ctx, store.Session{Token: token, User: user, SavedAt: time.Now()}); err != nil {
		c.logger.Warn("session not persisted", map[string]any{"error": err.Error()})
	}

	// A new credential tears the connection down, taking the chat's
	// subscriptions with it.
	rotated := c.conn.Credential().Token != token
	c.mu.Lock()
	prev := c.user
	c.user = &user
	chat := c.chat
	if prev != nil && (prev.ID != user.ID || rotated) {
		c.chat = nil
	} else {
		chat = nil
	}
	c.mu.Unlock()
	if chat != nil {
		chat.Close()
	}

	c.logger.Info("session started", map[string]any{"user_id": user.ID, "credential": redact(token)})
	if err := c.conn.Initialize(ctx, token); err != nil {
		return &user, err
	}
	return &user, nil
}

func (c *Client) endSession(ctx context.Context) error {
	c.mu.Lock()
	chat := c.chat
	c.chat = nil
	c.user = nil
	c.mu.Unlock()
	if chat != nil {
		chat.Close()
	}

	_ = c.conn.Terminate()
	c.REST.SetToken("")
	if err := c.store.Clear(ctx); err != nil && !errors.Is(err, store.ErrNoSession) {
		return WrapError(ErrorUnknown, "clear session", err)
	}
	return nil
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
