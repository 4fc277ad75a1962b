// Package internal holds the websocket transport used by the realtime layer.
package internal

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// DefaultReadLimit bounds a single inbound frame. Broadcast payloads are
// small; anything larger is a misbehaving server.
const DefaultReadLimit = 64 << 10

// Options configure a dialed socket.
type Options struct {
	Header       http.Header
	ReadTimeout  time.Duration // zero disables the per-read deadline
	WriteTimeout time.Duration
	ReadLimit    int64 // defaults to DefaultReadLimit
}

// Conn is a JSON frame socket with per-operation deadlines.
// One goroutine may Read while others Write.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  atomic.Int64
	writeTimeout time.Duration
}

// Dial opens a websocket to url. The HTTP response is returned even on
// failure so callers can inspect the status of a rejected upgrade.
func Dial(ctx context.Context, url string, opts Options) (*Conn, *http.Response, error) {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		return nil, resp, err
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	c := &Conn{ws: ws, writeTimeout: opts.WriteTimeout}
	c.readTimeout.Store(int64(opts.ReadTimeout))
	return c, resp, nil
}

// SetReadTimeout changes the deadline applied to subsequent reads.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout.Store(int64(d))
}

// Read decodes the next frame into v.
func (c *Conn) Read(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, time.Duration(c.readTimeout.Load()))
	defer cancel()
	return wsjson.Read(ctx, c.ws, v)
}

// Write encodes v as one text frame.
func (c *Conn) Write(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Close performs the closing handshake.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// CloseNow drops the connection without the closing handshake.
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
