package alumnet

import "strings"

// dispatcher holds the handlers bound on one channel, keyed by wire event
// name and kept in registration order.
type dispatcher struct {
	handlers map[string][]Handler
}

func (d *dispatcher) add(namespace string, b Bindings) {
	if len(b) == 0 {
		return
	}
	if d.handlers == nil {
		d.handlers = make(map[string][]Handler, len(b))
	}
	for name, h := range b {
		if h == nil {
			continue
		}
		wire := FormatEventName(namespace, name)
		d.handlers[wire] = append(d.handlers[wire], h)
	}
}

// lookup returns a snapshot of the handlers for a wire event name.
func (d *dispatcher) lookup(event string) []Handler {
	hs := d.handlers[event]
	if len(hs) == 0 {
		return nil
	}
	return append([]Handler(nil), hs...)
}

// toEvent converts a channel frame into its tagged variant.
func toEvent(f Frame) Event {
	if name, ok := strings.CutPrefix(f.Event, clientEventPrefix); ok {
		return SignalEvent{Channel: f.Channel, Name: name, Data: f.Data}
	}
	return ChannelEvent{Channel: f.Channel, Name: f.Event, Data: f.Data}
}
