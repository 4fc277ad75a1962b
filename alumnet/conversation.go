package alumnet

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// ViewState describes what a Conversation can show.
type ViewState int

const (
	// ViewIdle means no history was requested yet.
	ViewIdle ViewState = iota
	ViewLoading
	ViewReady
	// ViewUnavailable means history could not be loaded. It is distinct from
	// a ready view with no messages.
	ViewUnavailable
)

func (v ViewState) String() string {
	switch v {
	case ViewIdle:
		return "idle"
	case ViewLoading:
		return "loading"
	case ViewReady:
		return "ready"
	case ViewUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// HistorySource fetches the stored messages exchanged with a peer.
type HistorySource interface {
	GetMessages(ctx context.Context, peerID int64) ([]rest.Message, error)
}

// Conversation merges fetched history, confirmed sends and pushed messages
// for the open peer into one sequence ordered by creation time. Ties keep
// arrival order. A message id appears at most once.
type Conversation struct {
	self    int64
	logger  Logger
	metrics *Metrics

	mu       sync.Mutex
	peer     int64
	gen      uint64
	state    ViewState
	err      error
	messages []rest.Message
	ids      map[int64]struct{}
	onChange func()
}

// NewConversation creates a reconciler for the signed-in user self.
func NewConversation(self int64) *Conversation {
	return &Conversation{self: self, logger: noopLogger{}, ids: make(map[int64]struct{})}
}

// SetLogger overrides logger (optional).
func (c *Conversation) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetMetrics enables metrics collection (optional).
func (c *Conversation) SetMetrics(m *Metrics) { c.metrics = m }

// OnChange registers fn, called after the sequence or view state changes.
func (c *Conversation) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Open switches to peer, discarding the previous sequence. Fetches still in
// flight for an earlier Open are ignored when they resolve.
func (c *Conversation) Open(peer int64) {
	c.mu.Lock()
	c.reset(peer)
	c.mu.Unlock()
	c.changed()
}

// Close discards the open conversation.
func (c *Conversation) Close() {
	c.Open(0)
}

func (c *Conversation) reset(peer int64) {
	c.gen++
	c.peer = peer
	c.state = ViewIdle
	c.err = nil
	c.messages = nil
	c.ids = make(map[int64]struct{})
}

// LoadHistory fetches the open conversation's history and replaces the
// sequence with it. Messages appended while the fetch was in flight are
// kept. If the selected peer changed in the meantime the result is dropped
// and nil is returned. On failure the view becomes ViewUnavailable, shows no
// messages and the error has code ErrorHistoryUnavailable.
func (c *Conversation) LoadHistory(ctx context.Context, src HistorySource) error {
	c.mu.Lock()
	if c.peer == 0 {
		c.mu.Unlock()
		return NewError(ErrorInvalidArgument, "no conversation open")
	}
	gen, peer := c.gen, c.peer
	c.state = ViewLoading
	c.err = nil
	c.mu.Unlock()
	c.changed()

	history, err := src.GetMessages(ctx, peer)

	c.mu.Lock()
	if c.gen != gen || c.peer != peer {
		c.mu.Unlock()
		c.logger.Debug("discarding stale history", map[string]any{"peer": peer})
		return nil
	}
	if err != nil {
		c.state = ViewUnavailable
		c.err = wrapAPIError(ErrorHistoryUnavailable, "failed to load messages", err)
		c.messages = nil
		c.ids = make(map[int64]struct{})
		loadErr := c.err
		c.mu.Unlock()
		c.changed()
		return loadErr
	}

	arrived := c.messages
	history = slices.Clone(history)
	slices.SortStableFunc(history, func(a, b rest.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	c.messages = make([]rest.Message, 0, len(history)+len(arrived))
	c.ids = make(map[int64]struct{}, len(history)+len(arrived))
	for _, m := range history {
		if _, dup := c.ids[m.ID]; dup {
			continue
		}
		c.ids[m.ID] = struct{}{}
		c.messages = append(c.messages, m)
	}
	for _, m := range arrived {
		c.insert(m)
	}
	c.state = ViewReady
	c.mu.Unlock()
	c.changed()
	return nil
}

// AppendLocal adds a message the server confirmed after a send. It reports
// whether the sequence changed.
func (c *Conversation) AppendLocal(m rest.Message) bool {
	return c.append(m, "local")
}

// AppendRemote adds a pushed message. Messages that do not belong to the
// open conversation are dropped.
func (c *Conversation) AppendRemote(m rest.Message) bool {
	return c.append(m, "remote")
}

func (c *Conversation) append(m rest.Message, source string) bool {
	c.mu.Lock()
	if !c.belongs(m) {
		c.mu.Unlock()
		c.metrics.foreignMessageDropped()
		c.logger.Debug("dropping message for another conversation", map[string]any{"id": m.ID, "source": source, "sender": m.SenderID})
		return false
	}
	if c.state == ViewUnavailable {
		c.mu.Unlock()
		c.logger.Debug("history unavailable, not appending", map[string]any{"id": m.ID, "source": source})
		return false
	}
	added := c.insert(m)
	c.mu.Unlock()
	if added {
		c.changed()
	}
	return added
}

func (c *Conversation) belongs(m rest.Message) bool {
	if c.peer == 0 {
		return false
	}
	return (m.SenderID == c.peer && m.ReceiverID == c.self) ||
		(m.SenderID == c.self && m.ReceiverID == c.peer)
}

// insert places m after every message created at or before it.
func (c *Conversation) insert(m rest.Message) bool {
	if _, dup := c.ids[m.ID]; dup {
		return false
	}
	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(m.CreatedAt)
	})
	c.messages = slices.Insert(c.messages, i, m)
	c.ids[m.ID] = struct{}{}
	return true
}

// Messages returns a copy of the ordered sequence.
func (c *Conversation) Messages() []rest.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// State returns the view state.
func (c *Conversation) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Peer returns the open peer, or 0.
func (c *Conversation) Peer() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Err returns the last history failure while the view is unavailable.
func (c *Conversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conversation) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
