// Package notify delivers marketplace events to operator chat channels.
// Senders (Telegram, Discord) receive a rendered title and body; the Notifier
// filters by event type and fans out to every sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are forwarded when no filter is configured.
var DefaultEvents = []domain.EventType{
	domain.EventTokenBought,
	domain.EventCollectionConfigured,
	domain.EventCollectionDisabled,
}

// Notifier dispatches events to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that forwards only the listed event types.
// An empty list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether evt passes the filter and there is a sender.
func (n *Notifier) Enabled(t domain.EventType) bool {
	return len(n.senders) > 0 && n.events[t]
}

// NotifyEvent renders evt and sends it if its type is selected.
func (n *Notifier) NotifyEvent(ctx context.Context, evt domain.Event) error {
	if !n.Enabled(evt.Type) {
		return nil
	}
	title, message := FormatEvent(evt)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to every sender regardless of filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
