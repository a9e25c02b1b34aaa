// Package notify tells requesters that their document is ready.
//
// Exactly one Notifier is built per process from configuration. The email
// strategy mails the recipient directly, the topic strategy publishes a
// link-bearing message for downstream subscribers, and the none strategy
// does nothing because storage alone satisfies the request.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"pdfdispatch/internal/config"
)

// Strategy names the configured delivery mechanism.
type Strategy string

const (
	StrategyNone  Strategy = config.StrategyNone
	StrategyEmail Strategy = config.StrategyEmail
	StrategyTopic Strategy = config.StrategyTopic
)

// Fixed wording shared with downstream consumers.
const (
	EmailSubject    = "Your PDF is ready!"
	TopicSubjectFmt = "PDF Generated for %s"
	BodyFmt         = "Your PDF is available at: %s"
)

// Notifier delivers availability information for one stored artifact.
type Notifier interface {
	Strategy() Strategy
	// NeedsLink reports whether Notify expects a presigned URL.
	NeedsLink() bool
	// NeedsRecipient reports whether records must carry a valid email.
	NeedsRecipient() bool
	Notify(ctx context.Context, recipient, url string) error
	Close() error
}

// Message is the transient payload built for a single notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// EmailMessage composes the direct notification for recipient.
func EmailMessage(recipient, url string) Message {
	return Message{
		To:      recipient,
		Subject: EmailSubject,
		Body:    fmt.Sprintf(BodyFmt, url),
	}
}

// TopicMessage composes the fan-out notification. The recipient travels in
// the subject so existing subscribers can keep filtering on it.
func TopicMessage(recipient, url string) Message {
	return Message{
		To:      recipient,
		Subject: fmt.Sprintf(TopicSubjectFmt, recipient),
		Body:    fmt.Sprintf(BodyFmt, url),
	}
}

// Deps carries long-lived clients owned by the caller.
type Deps struct {
	Redis *redis.Client
}

// New constructs the configured Notifier.
func New(cfg config.NotifyConfig, deps Deps, logger *slog.Logger) (Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch Strategy(cfg.Strategy) {
	case StrategyNone, "":
		logger.Info("notifier initialised", slog.String("strategy", string(StrategyNone)))
		return NoopNotifier{}, nil
	case StrategyEmail:
		sender, err := NewSMTPSender(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("notify: smtp sender init: %w", err)
		}
		logger.Info("notifier initialised",
			slog.String("strategy", string(StrategyEmail)),
			slog.String("smtp_host", cfg.SMTP.Host),
		)
		return NewEmailNotifier(sender), nil
	case StrategyTopic:
		publisher, err := newTopicPublisher(cfg.Topic, deps)
		if err != nil {
			return nil, fmt.Errorf("notify: topic publisher init: %w", err)
		}
		logger.Info("notifier initialised",
			slog.String("strategy", string(StrategyTopic)),
			slog.String("backend", cfg.Topic.Backend),
			slog.String("topic", cfg.Topic.Name),
		)
		return NewTopicNotifier(publisher), nil
	default:
		return nil, fmt.Errorf("notify: unsupported strategy %q", cfg.Strategy)
	}
}

func newTopicPublisher(cfg config.TopicConfig, deps Deps) (Publisher, error) {
	switch cfg.Backend {
	case config.TopicBackendRedis, "":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis client is required for redis topic backend")
		}
		return NewRedisPublisher(deps.Redis, cfg.Name), nil
	case config.TopicBackendKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Name), nil
	case config.TopicBackendAMQP:
		return DialAMQPPublisher(cfg.AMQPURL, cfg.Name)
	default:
		return nil, fmt.Errorf("unsupported topic backend %q", cfg.Backend)
	}
}

// NoopNotifier is the none strategy.
type NoopNotifier struct{}

func (NoopNotifier) Strategy() Strategy { return StrategyNone }

func (NoopNotifier) NeedsLink() bool { return false }

func (NoopNotifier) NeedsRecipient() bool { return false }

func (NoopNotifier) Notify(context.Context, string, string) error { return nil }

func (NoopNotifier) Close() error { return nil }
