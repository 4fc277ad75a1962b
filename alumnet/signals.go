package alumnet

import (
	"context"
)

// Signals is the best-effort side channel for whispers such as typing
// indicators. Nothing sent here is retried, ordered or persisted.
type Signals struct {
	reg *Registry
}

// NewSignals layers a signal channel over reg and its connection.
func NewSignals(reg *Registry) *Signals {
	return &Signals{reg: reg}
}

// Emit whispers signal on channel. It never fails: when the transport is
// down or the channel has not been joined yet, the signal is dropped with a
// warning. An unjoined channel is requested so that a later Emit can go
// through.
func (s *Signals) Emit(ctx context.Context, channel, signal string, payload any) {
	conn := s.reg.conn
	sub, ok := s.reg.Lookup(channel)
	if !ok {
		s.drop(channel, signal, "channel not joined")
		if _, err := s.reg.Subscribe(ctx, channel, nil); err != nil {
			conn.logger.Debug("signal channel join failed", map[string]any{"channel": channel, "error": err.Error()})
		}
		return
	}
	if sub.Status() != SubscriptionActive {
		s.drop(channel, signal, "channel "+sub.Status().String())
		return
	}

	f, err := newFrame(signalEventName(signal), channel, payload)
	if err != nil {
		s.drop(channel, signal, err.Error())
		return
	}
	if !conn.trySend(f) {
		s.drop(channel, signal, "transport unavailable")
	}
}

// OnSignal calls fn for every signal named signal arriving on channel,
// joining the channel if needed.
func (s *Signals) OnSignal(ctx context.Context, channel, signal string, fn func(SignalEvent)) (*Subscription, error) {
	return s.reg.Subscribe(ctx, channel, Bindings{
		"." + signalEventName(signal): func(ev Event) {
			if se, ok := ev.(SignalEvent); ok {
				fn(se)
			}
		},
	})
}

func (s *Signals) drop(channel, signal, reason string) {
	s.reg.conn.metrics.signalDropped()
	s.reg.conn.logger.Warn("signal dropped", map[string]any{"channel": channel, "signal": signal, "reason": reason})
}
