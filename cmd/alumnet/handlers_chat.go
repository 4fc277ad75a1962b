package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/alumnet-sdk-go/alumnet"
	"github.com/vovakirdan/alumnet-sdk-go/alumnet/rest"
)

// =============================================================================
// Messaging Handlers
// =============================================================================

func runPeers(cmd *cobra.Command, opts *globalOptions) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	users, err := client.REST.ListUsers(cmd.Context())
	if err != nil {
		return err
	}
	peers := alumnet.ListPeers(users, client.CurrentUser().ID)
	if len(peers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nobody else here yet.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL")
	for _, p := range peers {
		fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, p.Email)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, opts *globalOptions, peer int64) error {
	client, err := opts.session(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	self := client.CurrentUser()
	conv := alumnet.NewConversation(self.ID)
	conv.Open(peer)
	if err := conv.LoadHistory(cmd.Context(), client.REST); err != nil {
		return err
	}
	msgs := conv.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages yet.")
		return nil
	}
	p := newPrinter(cmd.OutOrStdout(), *self, peerName(cmd.Context(), client, peer))
	for _, m := range msgs {
		p.message(m)
	}
	return nil
}

func runChat(cmd *cobra.Command, opts *globalOptions, peer int64) error {
	ctx := cmd.Context()
	client, err := opts.session(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnError(func(err error) {
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("error: %v", err))
	})
	chat, err := client.OpenChat(ctx)
	if chat == nil {
		return err
	}
	reportRealtime(cmd, err)

	self := chat.Self()
	p := newPrinter(cmd.OutOrStdout(), self, peerName(ctx, client, peer))

	chat.Conversation().OnChange(func() { p.catchUp(chat.Messages()) })
	chat.Typing().OnChange(func(who int64, typing bool) {
		if who == peer && typing {
			p.note(p.peerName + " is typing...")
		}
	})
	client.OnStateChanged(func(ev alumnet.StateEvent) {
		if ev.NewState != alumnet.StateConnected || ev.OldState != alumnet.StateConnecting {
			p.note("connection " + ev.NewState.String())
		}
	})

	if err := chat.Select(ctx, peer); err != nil {
		if alumnet.IsSubscriptionError(err) {
			reportRealtime(cmd, err)
		} else {
			return err
		}
	}
	p.catchUp(chat.Messages())
	p.note("chatting with " + p.peerName + ", Ctrl+D to leave")

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			chat.NotifyTyping(ctx)
			if _, err := chat.Send(ctx, line); err != nil {
				p.note(color.RedString("not sent: %v", err))
			}
		}
	}
}

type monitorOptions struct {
	autoReconnect bool
	metrics       bool
	channel       string
	event         string
}

func runMonitor(cmd *cobra.Command, opts *globalOptions, mo monitorOptions) error {
	ctx := cmd.Context()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	cfg.AutoReconnect = cfg.AutoReconnect || mo.autoReconnect
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	client.SetMetrics(alumnet.NewMetrics(reg))

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	client.OnStateChanged(func(ev alumnet.StateEvent) {
		mu.Lock()
		defer mu.Unlock()
		line := fmt.Sprintf("[%s] %s -> %s", time.Now().Format("15:04:05"), ev.OldState, stateColor(ev.NewState))
		if ev.SocketID != "" {
			line += " socket=" + ev.SocketID
		}
		if ev.Error != nil {
			line += " " + color.RedString("(%v)", ev.Error)
		}
		fmt.Fprintln(out, line)
	})

	if mo.channel != "" {
		// queued until the connection is up
		_, err := client.Registry().Subscribe(ctx, mo.channel, alumnet.Bindings{
			mo.event: func(ev alumnet.Event) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, formatEvent(time.Now(), ev))
			},
		})
		if err != nil {
			return err
		}
	}

	if _, err := client.Restore(ctx); err != nil && !alumnet.IsTransportError(err) {
		return err
	}
	fmt.Fprintln(out, `Monitoring. Type "r" and Enter to reconnect, Ctrl+C to stop.`)

	lines := readLines(ctx, cmd.InOrStdin())
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) != "r" {
				continue
			}
			if err := client.Connection().Reconnect(ctx); err != nil {
				mu.Lock()
				fmt.Fprintln(out, color.RedString("reconnect failed: %v", err))
				mu.Unlock()
			}
		}
	}

	if mo.metrics {
		return printMetrics(out, reg)
	}
	return nil
}

// formatEvent renders a dispatched channel event as one line.
func formatEvent(at time.Time, ev alumnet.Event) string {
	var channel, name string
	var data json.RawMessage
	switch e := ev.(type) {
	case alumnet.ChannelEvent:
		channel, name, data = e.Channel, e.Name, e.Data
	case alumnet.SignalEvent:
		channel, name, data = e.Channel, "client-"+e.Name, e.Data
	default:
		return fmt.Sprintf("[%s] %s", at.Format("15:04:05"), alumnet.KindOfEvent(ev))
	}
	payload := string(data)
	var raw json.RawMessage
	if err := alumnet.UnmarshalData(data, &raw); err == nil {
		payload = string(raw)
	}
	return fmt.Sprintf("[%s] %s %s %s", at.Format("15:04:05"), color.CyanString("%s", channel), color.YellowString("%s", name), payload)
}

// printMetrics dumps the SDK counters and gauges.
func printMetrics(out io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tLABELS\tVALUE")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			value := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			fmt.Fprintf(w, "%s\t%s\t%g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return w.Flush()
}

// readLines streams stdin lines until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func peerName(ctx context.Context, client *alumnet.Client, peer int64) string {
	users, err := client.REST.ListUsers(ctx)
	if err == nil {
		if i := slices.IndexFunc(users, func(u rest.User) bool { return u.ID == peer }); i >= 0 {
			return users[i].Name
		}
	}
	return fmt.Sprintf("user %d", peer)
}

// printer writes conversation lines, each message once.
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	self     rest.User
	peerName string
	shown    map[int64]bool
}

func newPrinter(out io.Writer, self rest.User, peerName string) *printer {
	return &printer{out: out, self: self, peerName: peerName, shown: make(map[int64]bool)}
}

func (p *printer) catchUp(msgs []rest.Message) {
	for _, m := range msgs {
		p.message(m)
	}
}

func (p *printer) message(m rest.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown[m.ID] {
		return
	}
	p.shown[m.ID] = true

	who := color.CyanString("%s", p.peerName)
	if m.SenderID == p.self.ID {
		who = color.GreenString("you")
	}
	fmt.Fprintf(p.out, "%s %s: %s\n", color.HiBlackString("%s", m.CreatedAt.Local().Format("Jan 2 15:04")), who, m.Text)
}

func (p *printer) note(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, color.HiBlackString("-- %s", s))
}
