package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"pdfdispatch/internal/config"
	"pdfdispatch/internal/document"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
	closed    bool
}

func (p *fakePublisher) Publish(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestEmailNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewEmailNotifier(sender)

	if !n.NeedsLink() || !n.NeedsRecipient() || n.Strategy() != StrategyEmail {
		t.Fatalf("unexpected email notifier traits")
	}

	url := "https://storage.example.com/pdf-bucket/pdfs/a.pdf?X-Amz-Signature=abc"
	if err := n.Notify(context.Background(), "user@example.com", url); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	want := Message{
		To:      "user@example.com",
		Subject: "Your PDF is ready!",
		Body:    "Your PDF is available at: " + url,
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestEmailNotifier_Errors(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay refused")}
	n := NewEmailNotifier(sender)

	if err := n.Notify(context.Background(), "user@example.com", "u"); document.KindOf(err) != document.KindNotify {
		t.Fatalf("expected notify error, got %v", err)
	}
	if err := n.Notify(context.Background(), "", "u"); document.KindOf(err) != document.KindNotify {
		t.Fatalf("expected notify error for empty recipient, got %v", err)
	}
}

func TestTopicNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewTopicNotifier(pub)

	if !n.NeedsLink() || n.Strategy() != StrategyTopic {
		t.Fatalf("unexpected topic notifier traits")
	}
	if err := n.Notify(context.Background(), "user@example.com", "https://link"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(pub.envelopes) != 1 {
		t.Fatalf("expected one envelope, got %d", len(pub.envelopes))
	}
	want := Envelope{
		Subject: "PDF Generated for user@example.com",
		Message: "Your PDF is available at: https://link",
	}
	if pub.envelopes[0] != want {
		t.Fatalf("got %+v want %+v", pub.envelopes[0], want)
	}

	pub.err = errors.New("broker down")
	if err := n.Notify(context.Background(), "user@example.com", "https://link"); document.KindOf(err) != document.KindNotify {
		t.Fatalf("expected notify error, got %v", err)
	}

	if err := n.Close(); err != nil || !pub.closed {
		t.Fatalf("expected publisher closed")
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	if n.NeedsLink() || n.NeedsRecipient() || n.Strategy() != StrategyNone {
		t.Fatalf("unexpected noop traits")
	}
	if err := n.Notify(context.Background(), "", ""); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublisher(t *testing.T) {
	client := &fakeRedis{}
	p := NewRedisPublisher(client, "pdf-ready")

	env := Envelope{Subject: "PDF Generated for a@b.c", Message: "Your PDF is available at: x"}
	if err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.channel != "pdf-ready" {
		t.Fatalf("unexpected channel %q", client.channel)
	}
	var decoded Envelope
	if err := json.Unmarshal(client.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded != env {
		t.Fatalf("got %+v want %+v", decoded, env)
	}

	client.err = errors.New("connection refused")
	if err := p.Publish(context.Background(), env); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeKafkaWriter{}
	p := &KafkaPublisher{writer: w, topic: "pdf-ready"}

	env := Envelope{Subject: "PDF Generated for a@b.c", Message: "m"}
	if err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != env.Subject {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != env.Subject {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}
}

type fakeAMQPChannel struct {
	exchange string
	msg      amqp.Publishing
}

func (c *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	c.exchange = exchange
	c.msg = msg
	return nil
}

func (c *fakeAMQPChannel) Close() error { return nil }

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeAMQPChannel{}
	p := &AMQPPublisher{channel: ch, exchange: "pdf-ready"}

	env := Envelope{Subject: "PDF Generated for a@b.c", Message: "m"}
	if err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "pdf-ready" {
		t.Fatalf("unexpected exchange %q", ch.exchange)
	}
	if ch.msg.Headers["subject"] != env.Subject || ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNew_SelectsStrategy(t *testing.T) {
	n, err := New(config.NotifyConfig{Strategy: "none"}, Deps{}, nil)
	if err != nil || n.Strategy() != StrategyNone {
		t.Fatalf("expected none notifier, got %v %v", n, err)
	}

	n, err = New(config.NotifyConfig{
		Strategy: "email",
		SMTP:     config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"},
	}, Deps{}, nil)
	if err != nil || n.Strategy() != StrategyEmail {
		t.Fatalf("expected email notifier, got %v %v", n, err)
	}

	n, err = New(config.NotifyConfig{
		Strategy: "topic",
		Topic:    config.TopicConfig{Backend: "redis", Name: "pdf-ready"},
	}, Deps{Redis: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})}, nil)
	if err != nil || n.Strategy() != StrategyTopic {
		t.Fatalf("expected topic notifier, got %v %v", n, err)
	}

	if _, err := New(config.NotifyConfig{Strategy: "topic", Topic: config.TopicConfig{Backend: "redis"}}, Deps{}, nil); err == nil {
		t.Fatalf("expected error without redis client")
	}
	if _, err := New(config.NotifyConfig{Strategy: "fax"}, Deps{}, nil); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}
