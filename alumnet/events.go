package alumnet

import (
	"encoding/json"
	"strconv"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// EventKind tags the variants of Event.
type EventKind int

const (
	KindChannelEvent EventKind = iota + 1
	KindSignal
	KindStateChange
)

func (k EventKind) String() string {
	switch k {
	case KindChannelEvent:
		return "channel_event"
	case KindSignal:
		return "signal"
	case KindStateChange:
		return "state_change"
	default:
		return "unknown"
	}
}

// Event is one of ChannelEvent, SignalEvent or StateEvent.
type Event interface {
	eventKind() EventKind
}

// KindOfEvent returns the variant tag of ev.
func KindOfEvent(ev Event) EventKind {
	if ev == nil {
		return 0
	}
	return ev.eventKind()
}

// Handler receives events dispatched on a channel.
type Handler func(Event)

// Bindings maps event names to handlers for a Subscribe call.
type Bindings map[string]Handler

// ChannelEvent is a named event broadcast by the server on a channel.
type ChannelEvent struct {
	Channel string
	Name    string // wire name, e.g. App\Events\MessageSent
	Data    json.RawMessage
}

func (ChannelEvent) eventKind() EventKind { return KindChannelEvent }

// Decode unmarshals the event payload into v.
func (e ChannelEvent) Decode(v any) error {
	if err := UnmarshalData(e.Data, v); err != nil {
		return WrapError(ErrorSerialization, "decode "+e.Name, err)
	}
	return nil
}

// SignalEvent is an ephemeral client event (whisper) relayed by the server.
// Signals are never persisted, ordered or deduplicated.
type SignalEvent struct {
	Channel string
	Name    string // signal name without the client- prefix
	Data    json.RawMessage
}

func (SignalEvent) eventKind() EventKind { return KindSignal }

// Decode unmarshals the signal payload into v.
func (e SignalEvent) Decode(v any) error {
	if err := UnmarshalData(e.Data, v); err != nil {
		return WrapError(ErrorSerialization, "decode signal "+e.Name, err)
	}
	return nil
}

// Application payloads.

// MessageSent is broadcast on the recipient's private chat channel when a
// message is persisted.
type MessageSent struct {
	Message rest.Message `json:"message"`
}

// TypingSignal is whispered while a user types.
type TypingSignal struct {
	UserID int64 `json:"userID"`
}

const (
	// EventMessageSent is the application name of the message broadcast.
	EventMessageSent = "MessageSent"
	// SignalTyping is the whisper name for typing indicators.
	SignalTyping = "typing"
)

// ChatChannel is the per-user private channel carrying messages and
// typing whispers addressed to userID.
func ChatChannel(userID int64) string {
	return PrivateChannel("chat." + strconv.FormatInt(userID, 10))
}
