package alumnet

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// Authorizer signs private channel subscriptions for a socket.
// *rest.Client implements it.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (*rest.ChannelAuth, error)
}

// SubscriptionStatus is the lifecycle stage of a Subscription.
type SubscriptionStatus int

const (
	// SubscriptionPending waits for the server to confirm, or for the
	// connection to come up.
	SubscriptionPending SubscriptionStatus = iota
	SubscriptionActive
	// SubscriptionLeft is terminal.
	SubscriptionLeft
)

func (s SubscriptionStatus) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case SubscriptionActive:
		return "active"
	case SubscriptionLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Subscription is the handle for one channel held by a Registry. Repeated
// Subscribe calls for the same channel return the same handle.
type Subscription struct {
	id   string
	name string
	r    *Registry

	// guarded by r.mu
	status    SubscriptionStatus
	requested string // socket id a join is in progress or done for
	joined    string // socket id the subscribe frame was queued on
	handlers  dispatcher
}

// ID is a unique identifier for this handle.
func (s *Subscription) ID() string { return s.id }

// Name is the wire channel name.
func (s *Subscription) Name() string { return s.name }

// Private reports whether the channel requires authorization.
func (s *Subscription) Private() bool { return isPrivate(s.name) }

// Status returns the current lifecycle stage.
func (s *Subscription) Status() SubscriptionStatus {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	return s.status
}

// Registry tracks channel subscriptions on one Connection and routes
// inbound channel frames to their handlers.
//
// Subscribing while the connection is down queues the request; every
// pending subscription is requested once per socket id when the connection
// becomes connected, including after a reconnect.
type Registry struct {
	conn *Connection
	auth Authorizer

	// wire orders subscribe and unsubscribe frames against the commit
	// checks that decide whether they are sent. Taken before mu.
	wire sync.Mutex

	mu      sync.Mutex
	subs    map[string]*Subscription
	onError func(error)
}

// NewRegistry attaches a registry to conn. auth may be nil when only public
// channels are used.
func NewRegistry(conn *Connection, auth Authorizer) *Registry {
	r := &Registry{
		conn: conn,
		auth: auth,
		subs: make(map[string]*Subscription),
	}
	conn.setFrameHandler(r.route)
	conn.onTerminate(r.leaveAll)
	conn.OnStateChange(r.stateChanged)
	return r
}

// OnError registers a callback for subscription failures.
func (r *Registry) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Subscribe binds handlers on channel, joining it if needed. A second call
// for a channel already held attaches the new handlers to the existing
// subscription without another request to the server. Event names follow
// the Echo convention; see FormatEventName.
//
// When the connection is not up the subscription is queued and requested
// once connected. A rejected private channel returns an error of kind
// KindSubscription; the connection is left alone.
func (r *Registry) Subscribe(ctx context.Context, channel string, bindings Bindings) (*Subscription, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, NewError(ErrorInvalidArgument, "channel name is required")
	}

	r.mu.Lock()
	sub, ok := r.subs[channel]
	if !ok {
		sub = &Subscription{id: uuid.NewString(), name: channel, r: r, status: SubscriptionPending}
		r.subs[channel] = sub
		r.conn.metrics.subscriptions(len(r.subs))
	}
	sub.handlers.add(r.conn.cfg.EventNamespace, bindings)
	r.mu.Unlock()

	if ok {
		r.conn.logger.Debug("reusing subscription", map[string]any{"channel": channel, "id": sub.id})
	}

	socketID := r.conn.SocketID()
	if socketID == "" {
		r.conn.logger.Debug("subscription queued until connected", map[string]any{"channel": channel})
		return sub, nil
	}
	if err := r.join(ctx, sub, socketID); err != nil {
		return sub, err
	}
	return sub, nil
}

// Unsubscribe leaves channel and drops its handlers. Unknown channels and
// repeated calls are no-ops.
//
// A join still waiting on authorization is abandoned: its subscribe frame
// is never sent.
func (r *Registry) Unsubscribe(channel string) {
	r.wire.Lock()
	defer r.wire.Unlock()

	r.mu.Lock()
	sub, ok := r.subs[channel]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, channel)
	joined := sub.joined != ""
	sub.status = SubscriptionLeft
	sub.requested = ""
	sub.joined = ""
	r.conn.metrics.subscriptions(len(r.subs))
	r.mu.Unlock()

	if !joined {
		return
	}
	f, _ := newFrame(eventUnsubscribe, "", unsubscribePayload{Channel: channel})
	ctx, cancel := r.timeout(r.conn.cfg.WriteTimeout)
	defer cancel()
	if err := r.conn.send(ctx, f); err != nil {
		r.conn.logger.Debug("unsubscribe not sent", map[string]any{"channel": channel, "error": err.Error()})
	}
}

// Lookup returns the subscription held for channel, if any.
func (r *Registry) Lookup(channel string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[channel]
	return sub, ok
}

// Channels returns the names of all held channels, sorted.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	r.mu.Unlock()
	slices.Sort(names)
	return names
}

// join requests sub on socketID unless that already happened.
func (r *Registry) join(ctx context.Context, sub *Subscription, socketID string) error {
	r.mu.Lock()
	if sub.status == SubscriptionLeft || sub.requested == socketID {
		r.mu.Unlock()
		return nil
	}
	sub.requested = socketID
	r.mu.Unlock()

	payload := subscribePayload{Channel: sub.name}
	if sub.Private() {
		if r.auth == nil {
			err := NewError(ErrorSubscriptionRejected, "cannot join "+sub.name+": no authorizer configured")
			r.report(err)
			return err
		}
		signed, err := r.auth.AuthorizeChannel(ctx, socketID, sub.name)
		if err != nil {
			e := WrapError(ErrorSubscriptionRejected, "cannot join "+sub.name, err)
			r.report(e)
			return e
		}
		payload.Auth = signed.Auth
		payload.ChannelData = signed.ChannelData
	}

	f, err := newFrame(eventSubscribe, "", payload)
	if err != nil {
		return err
	}

	// Authorization may have taken a while. The channel could have been
	// left, replaced or reset for another socket in the meantime.
	r.wire.Lock()
	defer r.wire.Unlock()
	r.mu.Lock()
	if !r.current(sub, socketID) {
		r.mu.Unlock()
		r.conn.logger.Debug("join abandoned", map[string]any{"channel": sub.name, "socket_id": socketID})
		return nil
	}
	sub.joined = socketID
	r.mu.Unlock()

	if err := r.conn.send(ctx, f); err != nil {
		r.mu.Lock()
		if sub.requested == socketID {
			sub.requested = ""
			sub.joined = ""
		}
		r.mu.Unlock()
		return err
	}
	r.conn.logger.Debug("subscribe requested", map[string]any{"channel": sub.name, "socket_id": socketID})
	return nil
}

// current reports whether sub is still held and still being joined on
// socketID. Caller holds r.mu.
func (r *Registry) current(sub *Subscription, socketID string) bool {
	return sub.status != SubscriptionLeft && r.subs[sub.name] == sub && sub.requested == socketID
}

// joinPending requests every pending subscription on socketID.
func (r *Registry) joinPending(socketID string) {
	r.mu.Lock()
	var pending []*Subscription
	for _, sub := range r.subs {
		if sub.status == SubscriptionPending && sub.requested != socketID {
			pending = append(pending, sub)
		}
	}
	r.mu.Unlock()

	ctx, cancel := r.timeout(r.conn.cfg.RequestTimeout)
	defer cancel()
	for _, sub := range pending {
		if err := r.join(ctx, sub, socketID); err != nil && !IsSubscriptionError(err) {
			r.conn.logger.Warn("resubscribe failed", map[string]any{"channel": sub.name, "error": err.Error()})
		}
	}
}

// stateChanged runs on the notifier, possibly after a newer socket is
// already up. Subscriptions joined on the live socket are left alone.
func (r *Registry) stateChanged(ev StateEvent) {
	switch ev.NewState {
	case StateConnected:
		go r.joinPending(ev.SocketID)
	case StateDisconnected, StateError:
		live := r.conn.SocketID()
		r.mu.Lock()
		for _, sub := range r.subs {
			if live != "" && sub.requested == live {
				continue
			}
			if sub.status == SubscriptionActive {
				sub.status = SubscriptionPending
			}
			sub.requested = ""
			sub.joined = ""
		}
		r.mu.Unlock()
	}
}

// leaveAll runs on Terminate while the socket is still open: every channel
// is left and no handler fires afterwards.
func (r *Registry) leaveAll() {
	r.wire.Lock()
	defer r.wire.Unlock()

	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	var requested []string
	for name, sub := range subs {
		if sub.joined != "" {
			requested = append(requested, name)
		}
		sub.status = SubscriptionLeft
		sub.requested = ""
		sub.joined = ""
	}
	r.conn.metrics.subscriptions(0)
	r.mu.Unlock()

	if len(requested) == 0 {
		return
	}
	ctx, cancel := r.timeout(r.conn.cfg.WriteTimeout)
	defer cancel()
	for _, name := range requested {
		f, _ := newFrame(eventUnsubscribe, "", unsubscribePayload{Channel: name})
		if err := r.conn.writeNow(ctx, f); err != nil {
			r.conn.logger.Debug("unsubscribe on teardown failed", map[string]any{"channel": name, "error": err.Error()})
			return
		}
	}
	r.conn.logger.Info("left channels", map[string]any{"count": len(requested)})
}

// route receives every channel frame read by the Connection.
func (r *Registry) route(f Frame) {
	switch f.Event {
	case eventSubscriptionSucceeded:
		r.mu.Lock()
		if sub, ok := r.subs[f.Channel]; ok && sub.status == SubscriptionPending {
			sub.status = SubscriptionActive
		}
		r.mu.Unlock()
		r.conn.logger.Debug("subscribed", map[string]any{"channel": f.Channel})
		return
	case eventSubscriptionError:
		var se subscriptionError
		_ = UnmarshalData(f.Data, &se)
		msg := fmt.Sprintf("cannot join %s: %s", f.Channel, se.Error)
		if se.Status != 0 {
			msg += fmt.Sprintf(" (status %d)", se.Status)
		}
		r.report(NewError(ErrorSubscriptionRejected, msg))
		return
	}

	r.mu.Lock()
	sub, ok := r.subs[f.Channel]
	var handlers []Handler
	if ok && sub.status != SubscriptionLeft {
		handlers = sub.handlers.lookup(f.Event)
	}
	r.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	ev := toEvent(f)
	for _, h := range handlers {
		if sub.Status() == SubscriptionLeft {
			return
		}
		h(ev)
	}
	r.conn.metrics.eventDispatched(KindOfEvent(ev))
}

func (r *Registry) report(err error) {
	r.conn.logger.Warn("subscription error", map[string]any{"error": err.Error()})
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (r *Registry) timeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}
