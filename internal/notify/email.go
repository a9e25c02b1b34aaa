package notify

import (
	"context"
	"errors"
	"fmt"

	"pdfdispatch/internal/document"
)

// Sender delivers one composed mail message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// EmailNotifier is the direct strategy: one mail per record to the requester.
type EmailNotifier struct {
	sender Sender
}

// NewEmailNotifier wraps a Sender.
func NewEmailNotifier(sender Sender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

func (n *EmailNotifier) Strategy() Strategy { return StrategyEmail }

func (n *EmailNotifier) NeedsLink() bool { return true }

func (n *EmailNotifier) NeedsRecipient() bool { return true }

// Notify sends the fixed "ready" mail with the link embedded in the body.
func (n *EmailNotifier) Notify(ctx context.Context, recipient, url string) error {
	if recipient == "" {
		return document.NotifyError("send email", errors.New("recipient is required"))
	}
	if err := n.sender.Send(ctx, EmailMessage(recipient, url)); err != nil {
		return document.NotifyError("send email", fmt.Errorf("send to %s: %w", recipient, err))
	}
	return nil
}

func (n *EmailNotifier) Close() error { return nil }
