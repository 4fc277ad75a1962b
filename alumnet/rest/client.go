package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 30 * time.Second
)

// Client provides REST API access to the Alumnet backend.
type Client struct {
	baseURL      string
	authEndpoint string
	httpClient   *http.Client

	mu    sync.RWMutex
	token string
	cache *expirable.LRU[string, []byte]
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost/api".
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:      baseURL,
		authEndpoint: baseURL + "/broadcasting/auth",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: expirable.NewLRU[string, []byte](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetAuthEndpoint overrides the private channel authorization URL.
func (c *Client) SetAuthEndpoint(endpoint string) {
	if endpoint != "" {
		c.authEndpoint = endpoint
	}
}

// SetCacheTTL replaces the GET cache. A ttl <= 0 disables caching.
func (c *Client) SetCacheTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		c.cache = nil
		return
	}
	c.cache = expirable.NewLRU[string, []byte](defaultCacheSize, nil, ttl)
}

// SetToken sets the bearer token for authenticated requests.
// Cached responses belong to the previous identity and are dropped.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.purge()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authentication endpoints

// Login authenticates with existing credentials.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a new user account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/register", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the current token on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/logout", nil, nil, true)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var resp item[User]
	if err := c.getCached(ctx, "/user", &resp); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// Roster and messages

// ListUsers returns the user roster.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp list[User]
	if err := c.getCached(ctx, "/users", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetMessages returns the conversation history with a peer. Never cached.
func (c *Client) GetMessages(ctx context.Context, peerID int64) ([]Message, error) {
	var resp list[Message]
	if err := c.get(ctx, fmt.Sprintf("/messages/%d", peerID), &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendMessage persists a message to a peer and returns the stored record.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string) (*Message, error) {
	var resp item[Message]
	if err := c.post(ctx, fmt.Sprintf("/messages/%d", peerID), SendMessageRequest{Message: text}, &resp, true); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// Alumni endpoints

// ListAlumni returns all alumni records.
func (c *Client) ListAlumni(ctx context.Context) ([]Alumni, error) {
	var resp list[Alumni]
	if err := c.getCached(ctx, "/alumni", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetAlumni returns a single alumni record.
func (c *Client) GetAlumni(ctx context.Context, id int64) (*Alumni, error) {
	var resp item[Alumni]
	if err := c.get(ctx, fmt.Sprintf("/alumni/%d", id), &resp, true); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// CreateAlumni creates an alumni record.
func (c *Client) CreateAlumni(ctx context.Context, in AlumniInput) (*Alumni, error) {
	var resp item[Alumni]
	if err := c.post(ctx, "/alumni", in, &resp, true); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// UpdateAlumni replaces an alumni record.
func (c *Client) UpdateAlumni(ctx context.Context, id int64, in AlumniInput) (*Alumni, error) {
	var resp item[Alumni]
	if err := c.put(ctx, fmt.Sprintf("/alumni/%d", id), in, &resp); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// DeleteAlumni removes an alumni record.
func (c *Client) DeleteAlumni(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/alumni/%d", id))
}

// Event endpoints

// ListEvents returns the public events catalog.
func (c *Client) ListEvents(ctx context.Context) ([]Event, error) {
	var resp list[Event]
	if err := c.getCached(ctx, "/events", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListAdminEvents returns every event including drafts (admin only).
func (c *Client) ListAdminEvents(ctx context.Context) ([]Event, error) {
	var resp list[Event]
	if err := c.get(ctx, "/admin/events", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// MyEvents returns the events the current user registered for.
func (c *Client) MyEvents(ctx context.Context) ([]Event, error) {
	var resp list[Event]
	if err := c.get(ctx, "/my-events", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetEvent returns a single event.
func (c *Client) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var resp item[Event]
	if err := c.get(ctx, fmt.Sprintf("/events/%d", id), &resp, true); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// CreateEvent creates an event.
func (c *Client) CreateEvent(ctx context.Context, in EventInput) (*Event, error) {
	var resp item[Event]
	if err := c.post(ctx, "/events", in, &resp, true); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// UpdateEvent replaces an event.
func (c *Client) UpdateEvent(ctx context.Context, id int64, in EventInput) (*Event, error) {
	var resp item[Event]
	if err := c.put(ctx, fmt.Sprintf("/events/%d", id), in, &resp); err != nil {
		return nil, err
	}
	return &resp.v, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/events/%d", id))
}

// EventAttendees lists users registered for an event (admin only).
func (c *Client) EventAttendees(ctx context.Context, id int64) ([]Attendee, error) {
	var resp list[Attendee]
	if err := c.get(ctx, fmt.Sprintf("/events/%d/attendees", id), &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// RegisterForEvent registers the current user for an event.
func (c *Client) RegisterForEvent(ctx context.Context, id int64) error {
	return c.post(ctx, fmt.Sprintf("/events/%d/register", id), nil, nil, true)
}

// CancelEventRegistration withdraws the current user from an event.
func (c *Client) CancelEventRegistration(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("/events/%d/register", id))
}

// Broadcasting

// AuthorizeChannel signs a private channel subscription for the given socket.
func (c *Client) AuthorizeChannel(ctx context.Context, socketID, channel string) (*ChannelAuth, error) {
	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req, true)

	var resp ChannelAuth
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Auth == "" {
		return nil, fmt.Errorf("empty channel authorization for %s", channel)
	}
	return &resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	defer c.purge()
	return c.send(ctx, http.MethodPost, path, body, dest, requireAuth)
}

func (c *Client) put(ctx context.Context, path string, body, dest any) error {
	defer c.purge()
	return c.send(ctx, http.MethodPut, path, body, dest, true)
}

func (c *Client) delete(ctx context.Context, path string) error {
	defer c.purge()
	return c.send(ctx, http.MethodDelete, path, nil, nil, true)
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, requireAuth)

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req, requireAuth)

	return c.do(req, dest)
}

// getCached serves authenticated reads from the cache when possible.
func (c *Client) getCached(ctx context.Context, path string, dest any) error {
	c.mu.RLock()
	cache, key := c.cache, c.token+" "+path
	c.mu.RUnlock()

	if cache != nil {
		if body, ok := cache.Get(key); ok {
			return decode(body, dest)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req, true)

	body, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if err := decode(body, dest); err != nil {
		return err
	}
	if cache != nil {
		cache.Add(key, body)
	}
	return nil
}

func (c *Client) authorize(req *http.Request, requireAuth bool) {
	req.Header.Set("Accept", "application/json")
	if !requireAuth {
		return
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) purge() {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache != nil {
		cache.Purge()
	}
}

func (c *Client) do(req *http.Request, dest any) error {
	body, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	return decode(body, dest)
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil {
			apiErr.Message = errResp.Message
			if apiErr.Message == "" {
				apiErr.Message = errResp.Error
			}
			apiErr.Errors = errResp.Errors
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}

	return body, nil
}

func decode(body []byte, dest any) error {
	if dest == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
