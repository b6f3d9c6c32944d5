// Package notify fans bundle action outcomes out to chat channels
// (Telegram, Discord). Events can be filtered so operators only hear about
// the outcomes they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// Message is one notification.
type Message struct {
	Event string
	Title string
	Body  string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier dispatches messages to every sender. Only events in the allow
// list pass; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithRateLimit drops notifications beyond perMinute, with a burst of the
// same size. Zero disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(n *Notifier) {
		if perMinute > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
		}
	}
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify sends the message to all senders unless the event is filtered or
// rate limited. One sender failing does not stop the others.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.limiter != nil && !n.limiter.Allow() {
		n.logger.WarnContext(ctx, "notification dropped by rate limit", slog.String("event", event))
		return nil
	}

	msg := Message{Event: event, Title: title, Body: body}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
