package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pdfdispatch/internal/database"
	"pdfdispatch/internal/document"
	"pdfdispatch/internal/notify"
	"pdfdispatch/internal/pdf"
	"pdfdispatch/internal/pdf/pdftest"
	"pdfdispatch/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryStore struct {
	mu         sync.Mutex
	objects    map[string]pdf.Artifact
	presigned  []string
	ttls       []time.Duration
	publishErr error
	presignErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string]pdf.Artifact)}
}

func (s *memoryStore) Publish(_ context.Context, artifact pdf.Artifact) (string, error) {
	if s.publishErr != nil {
		return "", document.StorageError("put object", s.publishErr)
	}
	key := storage.NewKey("pdfs", pdf.Extension)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return "", fmt.Errorf("key %q written twice", key)
	}
	s.objects[key] = artifact
	return key, nil
}

func (s *memoryStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", document.StorageError("presign", s.presignErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presigned = append(s.presigned, key)
	s.ttls = append(s.ttls, ttl)
	return "https://storage.example.com/pdf-bucket/" + key + "?X-Amz-Expires=3600", nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []notify.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env notify.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type panicRenderer struct {
	trigger string
}

func (r panicRenderer) Render(text string) (pdf.Artifact, error) {
	if text == r.trigger {
		panic("boom")
	}
	return pdf.Render(text)
}

type memoryRecorder struct {
	mu   sync.Mutex
	rows []database.Delivery
	err  error
}

func (r *memoryRecorder) RecordDelivery(_ context.Context, d database.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, d)
	return r.err
}

func body(t *testing.T, text, email string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"text": text, "email": email})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return raw
}

func TestProcessBatch_EmailEndToEnd(t *testing.T) {
	store := newMemoryStore()
	sender := &recordingSender{}
	c := NewCoordinator(pdf.NewRenderer(), store, notify.NewEmailNotifier(sender), Options{
		PresignTTL: time.Hour,
		Logger:     discardLogger(),
	})

	summary := c.ProcessBatch(context.Background(), []Record{
		{ID: "r1", Body: body(t, "Hello World", "user@example.com")},
	})

	if summary.Total != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	res := summary.Results[0]
	if !res.Notified || res.URL == "" || res.Recipient != "user@example.com" {
		t.Fatalf("unexpected result %+v", res)
	}

	stored, ok := store.objects[res.Key]
	if !ok {
		t.Fatalf("object %q not stored", res.Key)
	}
	if !bytes.HasPrefix(stored.Body, []byte("%PDF-")) || stored.ContentType != pdf.ContentType {
		t.Fatalf("stored object is not a pdf")
	}
	text, err := pdftest.ExtractText(stored.Body)
	if err != nil {
		t.Fatalf("read stored pdf: %v", err)
	}
	if text != "Hello World" {
		t.Fatalf("stored pdf shows %q", text)
	}
	if !strings.HasPrefix(res.Key, "pdfs/") || !strings.HasSuffix(res.Key, ".pdf") {
		t.Fatalf("unexpected key %q", res.Key)
	}
	if len(store.ttls) != 1 || store.ttls[0] != time.Hour {
		t.Fatalf("unexpected presign ttls %v", store.ttls)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sender.sent))
	}
	mail := sender.sent[0]
	if mail.To != "user@example.com" || mail.Subject != "Your PDF is ready!" {
		t.Fatalf("unexpected mail %+v", mail)
	}
	if mail.Body != "Your PDF is available at: "+res.URL {
		t.Fatalf("unexpected mail body %q", mail.Body)
	}
	if !strings.Contains(mail.Body, res.Key) {
		t.Fatalf("mail link %q does not point at %q", mail.Body, res.Key)
	}
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	store := newMemoryStore()
	sender := &recordingSender{}
	c := NewCoordinator(pdf.NewRenderer(), store, notify.NewEmailNotifier(sender), Options{
		Concurrency: 4,
		Logger:      discardLogger(),
	})

	records := make([]Record, 0, 10)
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:   fmt.Sprintf("r%d", i),
			Body: body(t, fmt.Sprintf("doc %d", i), fmt.Sprintf("user%d@example.com", i)),
		})
	}
	records[3].Body = []byte(`{"email":"user3@example.com"}`)

	summary := c.ProcessBatch(context.Background(), records)

	if summary.Succeeded != 9 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if store.count() != 9 || len(sender.sent) != 9 {
		t.Fatalf("expected 9 stored and notified, got %d and %d", store.count(), len(sender.sent))
	}
	failed := summary.Results[3]
	if failed.RecordID != "r3" || failed.Err == nil || failed.Err.Kind != document.KindDecode {
		t.Fatalf("unexpected failed result %+v", failed)
	}
	for i, r := range summary.Results {
		if r.RecordID != records[i].ID {
			t.Fatalf("results out of order at %d: %s", i, r.RecordID)
		}
	}
	if got := summary.FailuresByKind(); got[document.KindDecode] != 1 || len(got) != 1 {
		t.Fatalf("unexpected failures by kind %v", got)
	}
}

func TestProcessBatch_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		putErr    error
		signErr   error
		sendErr   error
		wantKind  document.Kind
		wantStore int
	}{
		{name: "render", text: "line one\nline two", wantKind: document.KindRender, wantStore: 0},
		{name: "put", text: "ok", putErr: errors.New("bucket gone"), wantKind: document.KindStorage, wantStore: 0},
		{name: "presign", text: "ok", signErr: errors.New("bad credentials"), wantKind: document.KindStorage, wantStore: 1},
		{name: "send", text: "ok", sendErr: errors.New("relay refused"), wantKind: document.KindNotify, wantStore: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemoryStore()
			store.publishErr = tc.putErr
			store.presignErr = tc.signErr
			sender := &recordingSender{err: tc.sendErr}
			c := NewCoordinator(pdf.NewRenderer(), store, notify.NewEmailNotifier(sender), Options{Logger: discardLogger()})

			summary := c.ProcessBatch(context.Background(), []Record{{ID: "r", Body: body(t, tc.text, "user@example.com")}})

			res := summary.Results[0]
			if res.Err == nil || res.Err.Kind != tc.wantKind {
				t.Fatalf("expected %s failure, got %+v", tc.wantKind, res.Err)
			}
			if res.Notified {
				t.Fatalf("failed record must not be marked notified")
			}
			if store.count() != tc.wantStore {
				t.Fatalf("expected %d stored objects, got %d", tc.wantStore, store.count())
			}
		})
	}
}

func TestProcessBatch_StrategyExclusive(t *testing.T) {
	t.Run("email sends no topic message", func(t *testing.T) {
		sender := &recordingSender{}
		c := NewCoordinator(pdf.NewRenderer(), newMemoryStore(), notify.NewEmailNotifier(sender), Options{Logger: discardLogger()})
		c.ProcessBatch(context.Background(), []Record{{ID: "r", Body: body(t, "x", "a@example.com")}})
		if len(sender.sent) != 1 {
			t.Fatalf("expected one mail, got %d", len(sender.sent))
		}
	})

	t.Run("topic sends no email", func(t *testing.T) {
		pub := &recordingPublisher{}
		store := newMemoryStore()
		c := NewCoordinator(pdf.NewRenderer(), store, notify.NewTopicNotifier(pub), Options{Logger: discardLogger()})
		summary := c.ProcessBatch(context.Background(), []Record{{ID: "r", Body: body(t, "x", "a@example.com")}})
		if summary.Failed != 0 || len(pub.envelopes) != 1 {
			t.Fatalf("expected one envelope, got %d (%+v)", len(pub.envelopes), summary)
		}
		env := pub.envelopes[0]
		if env.Subject != "PDF Generated for a@example.com" {
			t.Fatalf("unexpected subject %q", env.Subject)
		}
		if env.Message != "Your PDF is available at: "+summary.Results[0].URL {
			t.Fatalf("unexpected message %q", env.Message)
		}
	})

	t.Run("none stores without link or recipient", func(t *testing.T) {
		store := newMemoryStore()
		c := NewCoordinator(pdf.NewRenderer(), store, notify.NoopNotifier{}, Options{Logger: discardLogger()})
		summary := c.ProcessBatch(context.Background(), []Record{{ID: "r", Body: []byte(`{"text":"no recipient"}`)}})
		if summary.Succeeded != 1 || store.count() != 1 {
			t.Fatalf("unexpected summary %+v", summary)
		}
		if len(store.presigned) != 0 || summary.Results[0].URL != "" || summary.Results[0].Notified {
			t.Fatalf("none strategy must not presign or notify")
		}
	})
}

func TestProcessBatch_UniqueKeys(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(pdf.NewRenderer(), store, notify.NoopNotifier{}, Options{
		Concurrency: 8,
		Logger:      discardLogger(),
	})

	records := make([]Record, 1000)
	for i := range records {
		records[i] = Record{ID: fmt.Sprintf("r%d", i), Body: []byte(`{"text":"same text"}`)}
	}
	summary := c.ProcessBatch(context.Background(), records)

	if summary.Succeeded != 1000 {
		t.Fatalf("expected 1000 successes, got %+v", summary.FailuresByKind())
	}
	seen := make(map[string]struct{}, 1000)
	for _, r := range summary.Results {
		if _, dup := seen[r.Key]; dup {
			t.Fatalf("duplicate key %q", r.Key)
		}
		seen[r.Key] = struct{}{}
	}
	if store.count() != 1000 {
		t.Fatalf("expected 1000 objects, got %d", store.count())
	}
}

func TestProcessBatch_RecoversPanics(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(panicRenderer{trigger: "explode"}, store, notify.NoopNotifier{}, Options{Logger: discardLogger()})

	summary := c.ProcessBatch(context.Background(), []Record{
		{ID: "a", Body: []byte(`{"text":"explode"}`)},
		{ID: "b", Body: []byte(`{"text":"fine"}`)},
	})

	if summary.Failed != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Results[0].Err.Kind != document.KindInternal {
		t.Fatalf("expected internal failure, got %v", summary.Results[0].Err)
	}
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	store := newMemoryStore()
	c := NewCoordinator(pdf.NewRenderer(), store, notify.NoopNotifier{}, Options{Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := c.ProcessBatch(ctx, []Record{{ID: "a", Body: []byte(`{"text":"x"}`)}})

	if summary.Failed != 1 || store.count() != 0 {
		t.Fatalf("cancelled batch must not store objects: %+v", summary)
	}
}

func TestProcessBatch_RecordsDeliveries(t *testing.T) {
	recorder := &memoryRecorder{err: errors.New("ledger offline")}
	sender := &recordingSender{}
	c := NewCoordinator(pdf.NewRenderer(), newMemoryStore(), notify.NewEmailNotifier(sender), Options{
		Recorder: recorder,
		Logger:   discardLogger(),
	})

	summary := c.ProcessBatch(context.Background(), []Record{
		{ID: "ok", Body: body(t, "fine", "user@example.com")},
		{ID: "bad", Body: []byte(`not json`)},
	})

	// A ledger failure never changes the record outcome.
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(recorder.rows) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(recorder.rows))
	}
	byID := map[string]database.Delivery{}
	for _, row := range recorder.rows {
		byID[row.RecordID] = row
	}
	if row := byID["ok"]; row.Status != database.StatusCompleted || !row.Notified || row.Strategy != "email" {
		t.Fatalf("unexpected success row %+v", row)
	}
	if row := byID["bad"]; row.Status != database.StatusFailed || row.Stage != "decode" || row.ErrorCode != document.KindDecode.Code() {
		t.Fatalf("unexpected failure row %+v", row)
	}
}

func TestProcessBatch_LedgerKeepsOversizedRecords(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ledger, err := database.NewLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	longEmail := strings.Repeat("a", 2048) + "@example.com"
	tests := []struct {
		name     string
		notifier notify.Notifier
	}{
		{name: "email", notifier: notify.NewEmailNotifier(&recordingSender{})},
		{name: "none", notifier: notify.NoopNotifier{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCoordinator(pdf.NewRenderer(), newMemoryStore(), tc.notifier, Options{
				Recorder: ledger,
				Logger:   discardLogger(),
			})
			id := "long-" + tc.name
			c.ProcessBatch(context.Background(), []Record{
				{ID: id, CorrelationID: "corr-" + tc.name, Body: body(t, "Hello World", longEmail)},
			})

			var got database.Delivery
			if err := db.Where("record_id = ?", id).First(&got).Error; err != nil {
				t.Fatalf("ledger row missing: %v", err)
			}
			if got.CorrelationID != "corr-"+tc.name {
				t.Fatalf("unexpected correlation id %q", got.CorrelationID)
			}
			for field, v := range map[string]string{"recipient": got.Recipient, "error_message": got.ErrorMessage} {
				if !utf8.ValidString(v) {
					t.Fatalf("%s is not valid UTF-8", field)
				}
			}
			if n := utf8.RuneCountInString(got.Recipient); n > 320 {
				t.Fatalf("recipient has %d runes", n)
			}
			if n := utf8.RuneCountInString(got.ErrorMessage); n > 1024 {
				t.Fatalf("error message has %d runes", n)
			}
		})
	}
}

func TestProcessRecord_CarriesCorrelationID(t *testing.T) {
	recorder := &memoryRecorder{}
	c := NewCoordinator(pdf.NewRenderer(), newMemoryStore(), notify.NoopNotifier{}, Options{
		Recorder: recorder,
		Logger:   discardLogger(),
	})

	res := c.ProcessRecord(context.Background(), Record{ID: "r1", CorrelationID: "corr-1", Body: []byte(`{"text":"x"}`)})
	if !res.OK() || res.CorrelationID != "corr-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(recorder.rows) != 1 || recorder.rows[0].CorrelationID != "corr-1" {
		t.Fatalf("unexpected ledger rows %+v", recorder.rows)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "fits", in: "abc", limit: 5, want: "abc"},
		{name: "ascii", in: "abcdefgh", limit: 6, want: "abc..."},
		{name: "multibyte", in: "你好世界你好世界", limit: 5, want: "你好..."},
		{name: "invalid utf8", in: "ab\xffcd", limit: 10, want: "ab\uFFFDcd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncate([]byte(tc.in), tc.limit); got != tc.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
			}
		})
	}
}
