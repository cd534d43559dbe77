package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/handlers/ws"
)

const consoleHelp = `commands:
  @<nickname> <text>   send to one peer (server)
  <text>               send to the only peer
  /peers               list connected peers
  /stats [nickname]    show delivery statistics
  /quit                disconnect and exit`

// printEvents writes feed events to w until the subscription closes.
func printEvents(w io.Writer, events <-chan ws.Event) {
	for e := range events {
		if line := formatEvent(e); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

// formatEvent renders logs and peer lists. Conversation updates are
// skipped; every chat line already shows up as a MESSAGE log.
func formatEvent(e ws.Event) string {
	switch e.Type {
	case ws.EventLog:
		if e.Log == nil {
			return ""
		}
		return fmt.Sprintf("%s [%s] %s", e.Log.Time.Format("15:04:05"), e.Log.Level, e.Log.Message)
	case ws.EventPeers:
		if len(e.Peers) == 0 {
			return "peers: (none)"
		}
		names := make([]string, len(e.Peers))
		for i, n := range e.Peers {
			names[i] = string(n)
		}
		return "peers: " + strings.Join(names, ", ")
	}
	return ""
}

type console struct {
	side ports.ChatSide
	out  io.Writer
}

// run reads commands from in until EOF, /quit or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			if c.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle executes one line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/help":
		fmt.Fprintln(c.out, consoleHelp)
	case line == "/peers":
		fmt.Fprintln(c.out, formatEvent(ws.Event{Type: ws.EventPeers, Peers: c.side.Peers()}))
	case line == "/stats" || strings.HasPrefix(line, "/stats "):
		c.printStats(domain.Nickname(strings.TrimSpace(strings.TrimPrefix(line, "/stats"))))
	case strings.HasPrefix(line, "/"):
		fmt.Fprintf(c.out, "unknown command %q, try /help\n", line)
	case strings.HasPrefix(line, "@"):
		target, text, _ := strings.Cut(line[1:], " ")
		c.send(ctx, domain.Nickname(target), strings.TrimSpace(text))
	default:
		peers := c.side.Peers()
		if len(peers) != 1 {
			fmt.Fprintln(c.out, "more than one peer or none: use @<nickname> <text>")
			return false
		}
		c.send(ctx, peers[0], line)
	}
	return false
}

func (c *console) send(ctx context.Context, target domain.Nickname, text string) {
	if !c.side.Send(ctx, target, text) {
		fmt.Fprintf(c.out, "message to %s not sent\n", target)
	}
}

func (c *console) printStats(target domain.Nickname) {
	if target == "" {
		if peers := c.side.Peers(); len(peers) == 1 {
			target = peers[0]
		}
	}
	snap := c.side.Stats(target)
	if snap == nil {
		fmt.Fprintf(c.out, "no statistics for %q\n", target)
		return
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintf(c.out, "failed to encode statistics: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(data))
}
