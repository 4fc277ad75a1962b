package alumnet

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pusher wire protocol, as spoken by Laravel Reverb and compatible servers.
const (
	ProtocolVersion = 7
	clientName      = "alumnet-go"
	clientVersion   = "0.3.0"

	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventSubscriptionError     = "pusher:subscription_error"

	clientEventPrefix = "client-"
	privatePrefix     = "private-"
)

// Frame is the envelope in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// newFrame builds an outbound frame with payload encoded as a JSON object.
func newFrame(event, channel string, payload any) (Frame, error) {
	f := Frame{Event: event, Channel: channel}
	if payload == nil {
		f.Data = json.RawMessage(`{}`)
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, WrapError(ErrorSerialization, "encode "+event, err)
	}
	f.Data = raw
	return f, nil
}

// connectionEstablished is the data of pusher:connection_established.
type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// protocolError is the data of pusher:error.
type protocolError struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// fatal reports whether the server asked the client not to reconnect
// (4000-4099), which includes rejected credentials.
func (e protocolError) fatal() bool {
	return e.Code != nil && *e.Code >= 4000 && *e.Code < 4100
}

// unauthorized covers "application does not exist" / "connection unauthorized".
func (e protocolError) unauthorized() bool {
	return e.Code != nil && (*e.Code == 4001 || *e.Code == 4009)
}

// subscriptionError is the data of pusher:subscription_error.
type subscriptionError struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type subscribePayload struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

type unsubscribePayload struct {
	Channel string `json:"channel"`
}

// UnmarshalData decodes frame data into v. Servers encode data either as a
// JSON object or as a string holding JSON; both are accepted.
func UnmarshalData(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		return json.Unmarshal([]byte(inner), v)
	}
	return json.Unmarshal(data, v)
}

// PublicChannel returns the wire name of an open channel.
func PublicChannel(name string) string {
	return name
}

// PrivateChannel returns the wire name of a channel that requires authorization.
func PrivateChannel(name string) string {
	if strings.HasPrefix(name, privatePrefix) {
		return name
	}
	return privatePrefix + name
}

// isPrivate reports whether the wire channel needs an auth signature.
func isPrivate(channel string) bool {
	return strings.HasPrefix(channel, privatePrefix)
}

// FormatEventName maps an application event name to its wire name the way
// Laravel Echo does: a leading "." or "\" opts out of the namespace, anything
// else is prefixed with it, and dots become backslashes.
func FormatEventName(namespace, event string) string {
	if strings.HasPrefix(event, ".") || strings.HasPrefix(event, `\`) {
		return event[1:]
	}
	if namespace != "" {
		event = namespace + "." + event
	}
	return strings.ReplaceAll(event, ".", `\`)
}

// signalEventName is the wire name of a whisper.
func signalEventName(signal string) string {
	return clientEventPrefix + signal
}
