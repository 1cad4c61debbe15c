// Package ui is a line-oriented console front-end for the messenger.
// It observes events from the core and turns typed lines into service calls.
// It never touches sockets or the peer registry directly.
package ui

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"lan-chat/domain/event"
	"lan-chat/internal"
	"lan-chat/moderation"
	"lan-chat/observability"
	"lan-chat/projection"
	"lan-chat/repositories"
	"lan-chat/runtime"
	"lan-chat/services"

	json "github.com/goccy/go-json"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const helpText = `Commands:
  <text>              send to the current conversation
  /all [text]         switch to the group conversation
  /to <name> [text]   switch to a private conversation
  /name <new name>    change your user name
  /typing on|off      tell the current conversation you are typing
  /peers              list known peers
  /history [name|*]   show the stored conversation
  /stats              network and process counters
  /help               this help
  /quit               leave`

type Console struct {
	mu        sync.Mutex
	out       io.Writer
	service   services.IMessengerService
	roster    *projection.Roster
	moderator *moderation.Moderator
	display   internal.DisplayConfig
	log       *slog.Logger
	target    string
}

// NewConsole builds a console writing to out. A nil moderator shows content untouched.
func NewConsole(out io.Writer, service services.IMessengerService, moderator *moderation.Moderator,
	display internal.DisplayConfig, log *slog.Logger) *Console {
	return &Console{
		out:       out,
		service:   service,
		roster:    projection.NewRoster(),
		moderator: moderator,
		display:   display,
		log:       log,
	}
}

// Consume renders core events. It is registered as an event sink.
func (c *Console) Consume(_ context.Context, e event.DomainEvent) error {
	c.roster.Consume(e)
	switch evt := e.(type) {
	case event.MessageReceived:
		c.printMessage(evt)
	case event.PeerDiscovered:
		c.println(c.paint(color.FgGreen, fmt.Sprintf("* %s joined (%s)", evt.Name, evt.EndPoint)))
	case event.PeerDisconnected:
		c.println(c.paint(color.FgYellow, fmt.Sprintf("* %s left", evt.Name)))
	case event.TypingStatusChanged:
		if c.display.ShowTyping && evt.IsTyping {
			c.println(c.paint(color.FgGray, fmt.Sprintf("* %s is typing...", evt.Sender)))
		}
	}
	return nil
}

// Run reads commands until /quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.println(fmt.Sprintf("Connected as %s, type /help for commands", c.service.UserName()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.Execute(ctx, line)
			if err != nil {
				c.println(c.paint(color.FgRed, "! "+err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one input line and reports whether the user asked to leave.
func (c *Console) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.send(ctx, c.currentTarget(), line)
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		c.println(helpText)
		return false, nil
	case "/all":
		c.setTarget("")
		return false, c.sendIfAny(ctx, "", rest)
	case "/to":
		name, text, _ := strings.Cut(rest, " ")
		if name == "" {
			return false, fmt.Errorf("usage: /to <name> [text]")
		}
		c.setTarget(name)
		return false, c.sendIfAny(ctx, name, strings.TrimSpace(text))
	case "/name":
		if rest == "" {
			return false, fmt.Errorf("usage: /name <new name>")
		}
		if err := c.service.Rename(ctx, rest); err != nil {
			return false, err
		}
		c.println(fmt.Sprintf("* you are now %s", c.service.UserName()))
		return false, nil
	case "/typing":
		return false, c.service.Typing(ctx, rest != "off", c.currentTarget())
	case "/peers":
		c.printPeers()
		return false, nil
	case "/history":
		return false, c.printHistory(rest)
	case "/stats":
		c.printStats()
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s, type /help", command)
	}
}

func (c *Console) sendIfAny(ctx context.Context, target, text string) error {
	if text == "" {
		return nil
	}
	return c.send(ctx, target, text)
}

func (c *Console) send(ctx context.Context, target, text string) error {
	if target == "" {
		return c.service.Broadcast(ctx, text)
	}
	return c.service.SendTo(ctx, target, text)
}

func (c *Console) setTarget(name string) {
	c.mu.Lock()
	c.target = name
	c.mu.Unlock()
	conversation := lo.Ternary(name == "", repositories.BroadcastConversation, name)
	c.roster.MarkRead(conversation)
}

func (c *Console) currentTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Console) printMessage(evt event.MessageReceived) {
	if c.moderator != nil {
		names := lo.Map(c.service.Peers(), func(p runtime.PeerStatus, _ int) string { return p.UserName })
		evt, _ = c.moderator.Moderate(evt, names...)
	}
	stamp := evt.At.Local().Format(c.display.TimeFormat)
	var who string
	switch {
	case evt.Broadcast:
		who = c.paint(color.FgCyan, "<"+evt.Sender+">")
	case evt.IsLocal:
		who = c.paint(color.FgMagenta, "you -> "+evt.Target+":")
	default:
		who = c.paint(color.FgMagenta, evt.Sender+" -> you:")
	}
	c.println(fmt.Sprintf("[%s] %s %s", stamp, who, evt.Content))
}

func (c *Console) printPeers() {
	peers := c.service.Peers()
	rows := lo.Map(peers, func(p runtime.PeerStatus, _ int) []string {
		name := p.UserName
		if p.IsLocal {
			name += " (you)"
		}
		seen := "-"
		if !p.IsLocal && !p.LastHeartbeat.IsZero() {
			seen = time.Since(p.LastHeartbeat).Truncate(time.Second).String()
		}
		address := "-"
		if p.EndPoint.IsValid() {
			address = p.EndPoint.String()
		}
		return []string{name, address, p.State.String(), seen, fmt.Sprint(c.roster.Unread(p.UserName))}
	})
	c.table([]string{"Name", "Address", "State", "Last seen", "Unread"}, rows)
	if typing := c.roster.Typing(); len(typing) > 0 {
		c.println("typing: " + strings.Join(typing, ", "))
	}
}

func (c *Console) printHistory(conversation string) error {
	if conversation == "" {
		conversation = lo.Ternary(c.currentTarget() == "", repositories.BroadcastConversation, c.currentTarget())
	}
	messages, _, err := c.service.History(conversation, nil)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		c.println("no history for " + conversation)
		return nil
	}
	for _, m := range messages {
		c.printMessage(event.MessageReceived{
			ID:        m.ID,
			Sender:    m.Author,
			Content:   m.Content,
			At:        m.At,
			IsLocal:   m.Outgoing,
			Broadcast: m.Conversation == repositories.BroadcastConversation,
			Target:    m.Conversation,
		})
	}
	c.roster.MarkRead(conversation)
	return nil
}

func (c *Console) printStats() {
	rows, err := statsRows(c.service.Stats())
	if err != nil {
		c.log.Warn("Cannot render network stats", "error", err)
	}
	if self, err := observability.SelfStats(); err == nil {
		rows = append(rows,
			[]string{"pid", fmt.Sprint(self.Pid)},
			[]string{"rss_mb", fmt.Sprint(self.RSS / 1024 / 1024)},
			[]string{"cpu_percent", fmt.Sprintf("%.1f", self.CPUPercent)},
			[]string{"status", self.Status},
		)
	} else {
		c.log.Debug("Process stats unavailable", "error", err)
	}
	c.table([]string{"Counter", "Value"}, rows)
}

// statsRows flattens a snapshot into sorted counter rows using its json names.
func statsRows(snapshot observability.NetworkSnapshot) ([][]string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	var counters map[string]json.Number
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err = decoder.Decode(&counters); err != nil {
		return nil, err
	}
	names := lo.Keys(counters)
	slices.Sort(names)
	return lo.Map(names, func(name string, _ int) []string {
		return []string{name, counters[name].String()}
	}), nil
}

func (c *Console) table(header []string, rows [][]string) {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
	c.println(strings.TrimRight(b.String(), "\n"))
}

func (c *Console) paint(fg color.Color, s string) string {
	if !c.display.Colours {
		return s
	}
	return fg.Render(s)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}
