// Package notify delivers alerts to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every sender. One failing sender does not
// stop delivery to the others.
type Notifier struct {
	senders []Sender
}

func NewNotifier(senders ...Sender) *Notifier {
	return &Notifier{senders: senders}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

func (n *Notifier) Notify(ctx context.Context, title, message string) error {
	_, err := n.deliver(ctx, title, message)
	return err
}

// deliver sends to every sender and returns how many accepted the message.
func (n *Notifier) deliver(ctx context.Context, title, message string) (int, error) {
	var errs []error
	delivered := 0
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			slog.Error("notification failed", "sender", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		delivered++
		slog.Debug("notification sent", "sender", s.Name(), "title", title)
	}
	return delivered, errors.Join(errs...)
}
