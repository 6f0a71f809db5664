// Package notify delivers doctor alerts to chat webhooks.
//
// Payloads are built once in the Slack attachment shape ({text,
// attachments[{color, fields}]}); the Discord sender converts them into
// embeds. A channel without a URL is skipped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/telemetry"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// Attachment colors understood by both senders.
const (
	ColorDanger  = "danger"
	ColorWarning = "warning"
	ColorGood    = "good"
)

// Payload is a chat message in Slack attachment form.
type Payload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a colored block of fields.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// Field is a titled value inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Sender delivers a payload to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// FromConfig returns a sender for every configured webhook URL.
func FromConfig(n config.Notifications) []Sender {
	var out []Sender
	if n.SlackWebhook != "" {
		out = append(out, &Slack{URL: n.SlackWebhook})
	}
	if n.DiscordWebhook != "" {
		out = append(out, &Discord{URL: n.DiscordWebhook})
	}
	return out
}

// SendAll delivers p to every sender sequentially and returns the failures
// keyed by channel name. A nil map means every delivery succeeded.
func SendAll(ctx context.Context, senders []Sender, p Payload) map[string]error {
	var failed map[string]error
	for _, s := range senders {
		err := s.Send(ctx, p)
		telemetry.RecordNotification(ctx, s.Name(), err)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[s.Name()] = err
		}
	}
	return failed
}

// Slack posts the payload unchanged to an incoming webhook.
type Slack struct {
	URL    string
	Client *http.Client
}

// Name implements [Sender].
func (s *Slack) Name() string { return "slack" }

// Send implements [Sender].
func (s *Slack) Send(ctx context.Context, p Payload) error {
	return postJSON(ctx, s.Client, s.URL, "slack", p)
}

// Discord converts the payload into embeds and posts it to a Discord webhook.
type Discord struct {
	URL    string
	Client *http.Client
}

type discordPayload struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Color  int            `json:"color,omitempty"`
	Fields []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Name implements [Sender].
func (d *Discord) Name() string { return "discord" }

// Send implements [Sender].
func (d *Discord) Send(ctx context.Context, p Payload) error {
	return postJSON(ctx, d.Client, d.URL, "discord", toDiscord(p))
}

func toDiscord(p Payload) discordPayload {
	out := discordPayload{Content: p.Text}
	for _, a := range p.Attachments {
		e := discordEmbed{Color: discordColor(a.Color)}
		for _, f := range a.Fields {
			e.Fields = append(e.Fields, discordField{Name: f.Title, Value: f.Value, Inline: f.Short})
		}
		out.Embeds = append(out.Embeds, e)
	}
	return out
}

// discordColor maps Slack color names and "#rrggbb" values to the integer
// colors Discord embeds use.
func discordColor(c string) int {
	switch strings.ToLower(c) {
	case ColorDanger:
		return 0xE74C3C
	case ColorWarning:
		return 0xF1C40F
	case ColorGood:
		return 0x2ECC71
	}
	if hex, ok := strings.CutPrefix(c, "#"); ok {
		if v, err := strconv.ParseInt(hex, 16, 32); err == nil {
			return int(v)
		}
	}
	return 0x95A5A6
}

func postJSON(ctx context.Context, client *http.Client, url, channel string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encoding payload: %w", channel, err)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", channel, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response fully handled

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s status %d: %s", channel, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
