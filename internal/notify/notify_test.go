package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	mu   sync.Mutex
	name string
	err  error
	got  []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{" bundle_failed "}, discard())

	require.NoError(t, n.Notify(context.Background(), "bundle_succeeded", "ok", "body"))
	require.NoError(t, n.Notify(context.Background(), "bundle_failed", "bad", "body"))
	require.Len(t, s.got, 1)
	assert.Equal(t, Message{Event: "bundle_failed", Title: "bad", Body: "body"}, s.got[0])
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "bundle_failed", "t", "b")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.got, 1)
}

func TestNotifierRateLimit(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard(), WithRateLimit(2))
	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(context.Background(), "bundle_succeeded", "t", "b"))
	}
	assert.Len(t, s.got, 2)
}

func TestTelegramSender(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL+"/", "TOKEN", "42").Send(context.Background(),
		Message{Event: "bundle_succeeded", Title: "Bundle succeeded", Body: "done"})
	require.NoError(t, err)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "*Bundle succeeded*\ndone", payload["text"])
}

func TestDiscordSender(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(),
		Message{Event: "bundle_failed", Title: "Bundle failed", Body: "Error: reverted"}))
	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, 0xe74c3c, payload.Embeds[0].Color)
	assert.Equal(t, "Error: reverted", payload.Embeds[0].Description)
}

func TestSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "T", "1").Send(context.Background(), Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: unexpected status 400")
}
