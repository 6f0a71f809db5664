package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() Payload {
	return Payload{
		Text: "🩺 System Doctor: 2 FAIL on web-1",
		Attachments: []Attachment{{
			Color: ColorDanger,
			Fields: []Field{
				{Title: "Failing Checks", Value: "env, db", Short: true},
				{Title: "Mode", Value: "scan", Short: true},
			},
		}},
	}
}

func TestSlackSendsPayloadUnchanged(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := (&Slack{URL: srv.URL}).Send(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), got)
}

func TestDiscordConvertsToEmbeds(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := (&Discord{URL: srv.URL}).Send(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, "🩺 System Doctor: 2 FAIL on web-1", got.Content)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, 0xE74C3C, got.Embeds[0].Color)
	require.Len(t, got.Embeds[0].Fields, 2)
	assert.Equal(t, discordField{Name: "Failing Checks", Value: "env, db", Inline: true}, got.Embeds[0].Fields[0])
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := (&Slack{URL: srv.URL}).Send(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack status 403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestDiscordColor(t *testing.T) {
	tests := map[string]int{
		"danger":  0xE74C3C,
		"WARNING": 0xF1C40F,
		"good":    0x2ECC71,
		"#336699": 0x336699,
		"#zzz":    0x95A5A6,
		"":        0x95A5A6,
	}
	for in, want := range tests {
		assert.Equal(t, want, discordColor(in), "discordColor(%q)", in)
	}
}

func TestFromConfigSkipsEmptyURLs(t *testing.T) {
	assert.Empty(t, FromConfig(config.Notifications{}))

	senders := FromConfig(config.Notifications{DiscordWebhook: "https://discord.example/hook"})
	require.Len(t, senders, 1)
	assert.Equal(t, "discord", senders[0].Name())

	senders = FromConfig(config.Notifications{SlackWebhook: "a", DiscordWebhook: "b"})
	require.Len(t, senders, 2)
	assert.Equal(t, "slack", senders[0].Name())
}

type stubSender struct {
	name string
	err  error
	sent int
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(context.Context, Payload) error {
	s.sent++
	return s.err
}

func TestSendAllCollectsPerChannelFailures(t *testing.T) {
	ok := &stubSender{name: "slack"}
	bad := &stubSender{name: "discord", err: errors.New("502")}

	failed := SendAll(context.Background(), []Sender{bad, ok}, samplePayload())
	assert.Equal(t, 1, ok.sent, "a failing channel must not stop delivery to the next")
	assert.Equal(t, 1, bad.sent)
	require.Len(t, failed, 1)
	assert.EqualError(t, failed["discord"], "502")

	assert.Nil(t, SendAll(context.Background(), []Sender{ok}, samplePayload()))
}

func TestSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := (&Discord{URL: url}).Send(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
}
