package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pdfdispatch/internal/document"
)

// Envelope is the wire shape published to the fan-out topic.
type Envelope struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (e Envelope) marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Publisher writes one envelope to the shared topic.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// TopicNotifier is the fan-out strategy: subscribers of the topic route the
// message to the requester.
type TopicNotifier struct {
	publisher Publisher
}

// NewTopicNotifier wraps a Publisher.
func NewTopicNotifier(publisher Publisher) *TopicNotifier {
	return &TopicNotifier{publisher: publisher}
}

func (n *TopicNotifier) Strategy() Strategy { return StrategyTopic }

func (n *TopicNotifier) NeedsLink() bool { return true }

func (n *TopicNotifier) NeedsRecipient() bool { return true }

// Notify publishes the link for recipient.
func (n *TopicNotifier) Notify(ctx context.Context, recipient, url string) error {
	if recipient == "" {
		return document.NotifyError("publish topic", errors.New("recipient is required"))
	}
	msg := TopicMessage(recipient, url)
	if err := n.publisher.Publish(ctx, Envelope{Subject: msg.Subject, Message: msg.Body}); err != nil {
		return document.NotifyError("publish topic", err)
	}
	return nil
}

// Close releases the underlying publisher.
func (n *TopicNotifier) Close() error {
	return n.publisher.Close()
}
