package alumnet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// ChatAPI is the slice of the REST API a Chat needs.
type ChatAPI interface {
	HistorySource
	ListUsers(ctx context.Context) ([]rest.User, error)
	SendMessage(ctx context.Context, peerID int64, text string) (*rest.Message, error)
}

// Chat drives one-to-one messaging for the signed-in user: the inbox
// channel, the selected peer's conversation and typing indicators.
type Chat struct {
	self    rest.User
	api     ChatAPI
	reg     *Registry
	signals *Signals
	conv    *Conversation
	typing  *TypingTracker
	logger  Logger

	mu      sync.Mutex
	peer    int64
	peerSub string
	closed  bool
}

// NewChat joins the inbox channel of self and returns a Chat with no peer
// selected. The inbox is queued if the connection is not up yet.
func NewChat(ctx context.Context, self rest.User, api ChatAPI, reg *Registry, signals *Signals, typingTTL time.Duration) (*Chat, error) {
	c := &Chat{
		self:    self,
		api:     api,
		reg:     reg,
		signals: signals,
		conv:    NewConversation(self.ID),
		typing:  NewTypingTracker(typingTTL),
		logger:  reg.conn.logger,
	}
	c.conv.SetLogger(reg.conn.logger)
	c.conv.SetMetrics(reg.conn.metrics)

	_, err := reg.Subscribe(ctx, ChatChannel(self.ID), Bindings{
		EventMessageSent:                    c.onMessageSent,
		"." + signalEventName(SignalTyping): c.onTyping,
	})
	if err != nil {
		return c, err
	}
	return c, nil
}

// Self returns the signed-in user.
func (c *Chat) Self() rest.User { return c.self }

// Conversation exposes the reconciler of the selected peer.
func (c *Chat) Conversation() *Conversation { return c.conv }

// Typing exposes the typing tracker.
func (c *Chat) Typing() *TypingTracker { return c.typing }

// Peers lists every user except self.
func (c *Chat) Peers(ctx context.Context) ([]rest.User, error) {
	roster, err := c.api.ListUsers(ctx)
	if err != nil {
		return nil, wrapAPIError(ErrorRequest, "failed to load users", err)
	}
	return ListPeers(roster, c.self.ID), nil
}

// Select opens the conversation with peer. The previous peer's channel is
// left, the new peer's channel is joined and history is loaded. A history
// failure is returned ahead of a subscription failure. A Select overtaken
// by a later one returns nil without loading history.
func (c *Chat) Select(ctx context.Context, peer int64) error {
	if peer == 0 || peer == c.self.ID {
		return NewError(ErrorInvalidArgument, "invalid peer")
	}

	channel := ChatChannel(peer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return NewError(ErrorNotInitialized, "chat closed")
	}
	prev := c.peerSub
	prevPeer := c.peer
	c.peer = peer
	c.peerSub = channel
	c.mu.Unlock()

	if prev != "" && prev != channel {
		c.reg.Unsubscribe(prev)
	}
	if prevPeer != 0 && prevPeer != peer {
		c.typing.Clear(prevPeer)
	}
	c.conv.Open(peer)

	_, subErr := c.reg.Subscribe(ctx, channel, nil)
	if c.Peer() != peer {
		// superseded by a later Select while joining
		return nil
	}
	if err := c.conv.LoadHistory(ctx, c.api); err != nil {
		return err
	}
	return subErr
}

// Peer returns the selected peer, or 0.
func (c *Chat) Peer() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Send posts text to the selected peer. The message is shown only after the
// server confirmed it; on failure nothing is appended.
func (c *Chat) Send(ctx context.Context, text string) (*rest.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewError(ErrorInvalidArgument, "message is empty")
	}
	peer := c.Peer()
	if peer == 0 {
		return nil, NewError(ErrorInvalidArgument, "no conversation selected")
	}

	m, err := c.api.SendMessage(ctx, peer, text)
	if err != nil {
		return nil, wrapAPIError(ErrorSendFailed, "failed to send", err)
	}
	c.conv.AppendLocal(*m)
	return m, nil
}

// NotifyTyping whispers to the selected peer that self is typing.
func (c *Chat) NotifyTyping(ctx context.Context) {
	peer := c.Peer()
	if peer == 0 {
		return
	}
	c.signals.Emit(ctx, ChatChannel(peer), SignalTyping, TypingSignal{UserID: c.self.ID})
}

// PeerTyping reports whether the selected peer is typing.
func (c *Chat) PeerTyping() bool {
	peer := c.Peer()
	return peer != 0 && c.typing.IsTyping(peer)
}

// Messages returns the selected conversation.
func (c *Chat) Messages() []rest.Message {
	return c.conv.Messages()
}

// Close leaves the chat channels and discards the conversation.
func (c *Chat) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	peerSub := c.peerSub
	c.peer, c.peerSub = 0, ""
	c.mu.Unlock()

	if peerSub != "" {
		c.reg.Unsubscribe(peerSub)
	}
	c.reg.Unsubscribe(ChatChannel(c.self.ID))
	c.typing.Stop()
	c.conv.Close()
}

func (c *Chat) onMessageSent(ev Event) {
	ce, ok := ev.(ChannelEvent)
	if !ok {
		return
	}
	var payload MessageSent
	if err := ce.Decode(&payload); err != nil {
		c.logger.Warn("bad message event", map[string]any{"error": err.Error()})
		return
	}
	if c.conv.AppendRemote(payload.Message) {
		c.typing.Clear(payload.Message.SenderID)
	}
}

func (c *Chat) onTyping(ev Event) {
	se, ok := ev.(SignalEvent)
	if !ok {
		return
	}
	var sig TypingSignal
	if err := se.Decode(&sig); err != nil || sig.UserID == 0 || sig.UserID == c.self.ID {
		return
	}
	c.typing.Touch(sig.UserID)
}
