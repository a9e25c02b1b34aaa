package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"pdfdispatch/internal/database"
	"pdfdispatch/internal/document"
	"pdfdispatch/internal/metrics"
	"pdfdispatch/internal/notify"
	"pdfdispatch/internal/pdf"
)

// maxLoggedBody bounds how much of a failing record's raw body is logged.
const maxLoggedBody = 512

// Renderer turns request text into an artifact.
type Renderer interface {
	Render(text string) (pdf.Artifact, error)
}

// ObjectStore persists artifacts and grants time-limited read access.
type ObjectStore interface {
	Publish(ctx context.Context, artifact pdf.Artifact) (string, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Recorder persists per-record outcomes. Optional.
type Recorder interface {
	RecordDelivery(ctx context.Context, d database.Delivery) error
}

// Record is one opaque message from the queue transport.
type Record struct {
	ID string
	// CorrelationID ties the record to the intake request that produced it.
	CorrelationID string
	Body          []byte
}

// Result is the outcome of one record. Err is nil on success.
type Result struct {
	RecordID      string
	CorrelationID string
	Recipient     string
	Key       string
	URL       string
	Notified  bool
	Err       *document.Error
}

// OK reports whether the record completed every configured step.
func (r Result) OK() bool {
	return r.Err == nil
}

// Outcome is "ok" or the kind of the failing stage.
func (r Result) Outcome() string {
	if r.Err == nil {
		return "ok"
	}
	return string(r.Err.Kind)
}

// BatchSummary aggregates the results of one batch in input order.
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []Result
}

// FailuresByKind counts failed records per stage.
func (s BatchSummary) FailuresByKind() map[document.Kind]int {
	out := make(map[document.Kind]int)
	for _, r := range s.Results {
		if r.Err != nil {
			out[r.Err.Kind]++
		}
	}
	return out
}

// Options tunes a Coordinator.
type Options struct {
	// PresignTTL is the lifetime of links handed to the notifier. Zero
	// defers to the store's default.
	PresignTTL time.Duration
	// Concurrency bounds records processed in parallel within a batch.
	Concurrency int
	Recorder    Recorder
	Logger      *slog.Logger
}

// Coordinator runs the decode, render, store, notify pipeline over a batch,
// isolating failures per record.
type Coordinator struct {
	renderer    Renderer
	store       ObjectStore
	notifier    notify.Notifier
	recorder    Recorder
	presignTTL  time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewCoordinator wires the pipeline stages. All dependencies must be safe
// for concurrent use when opts.Concurrency > 1.
func NewCoordinator(renderer Renderer, store ObjectStore, notifier notify.Notifier, opts Options) *Coordinator {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Coordinator{
		renderer:    renderer,
		store:       store,
		notifier:    notifier,
		recorder:    opts.Recorder,
		presignTTL:  opts.PresignTTL,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "coordinator")),
	}
}

// ProcessBatch processes every record and never fails as a whole.
func (c *Coordinator) ProcessBatch(ctx context.Context, records []Record) BatchSummary {
	results := make([]Result, len(records))

	// A plain group: one record's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = c.ProcessRecord(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{Total: len(records), Results: results}
	for _, r := range results {
		if r.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	metrics.ObserveBatch(summary.Total)
	c.logger.Info("batch processed",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
	return summary
}

// ProcessRecord runs the pipeline for a single record.
func (c *Coordinator) ProcessRecord(ctx context.Context, rec Record) (res Result) {
	start := time.Now()
	res.RecordID = rec.ID
	res.CorrelationID = rec.CorrelationID

	defer func() {
		if p := recover(); p != nil {
			res.Err = &document.Error{
				Kind: document.KindInternal,
				Op:   "process record",
				Err:  fmt.Errorf("panic: %v", p),
			}
		}
		c.finish(ctx, rec, res, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		res.Err = &document.Error{Kind: document.KindInternal, Op: "batch cancelled", Err: err}
		return res
	}

	req, err := document.Decode(rec.Body, c.notifier.NeedsRecipient())
	if err != nil {
		res.Err = document.AsError(err, document.KindDecode)
		return res
	}
	res.Recipient = req.Recipient

	artifact, err := c.renderer.Render(req.Text)
	if err != nil {
		res.Err = document.AsError(err, document.KindRender)
		return res
	}

	key, err := c.store.Publish(ctx, artifact)
	if err != nil {
		res.Err = document.AsError(err, document.KindStorage)
		return res
	}
	res.Key = key

	if c.notifier.Strategy() == notify.StrategyNone {
		return res
	}

	var link string
	if c.notifier.NeedsLink() {
		link, err = c.store.Presign(ctx, key, c.presignTTL)
		if err != nil {
			res.Err = document.AsError(err, document.KindStorage)
			return res
		}
		res.URL = link
	}

	if err := c.notifier.Notify(ctx, req.Recipient, link); err != nil {
		res.Err = document.AsError(err, document.KindNotify)
		return res
	}
	res.Notified = true
	return res
}

func (c *Coordinator) finish(ctx context.Context, rec Record, res Result, elapsed time.Duration) {
	metrics.ObserveRecord(res.Outcome(), elapsed)

	log := c.logger.With(
		slog.String("record_id", rec.ID),
		slog.String("strategy", string(c.notifier.Strategy())),
	)
	if rec.CorrelationID != "" {
		log = log.With(slog.String("correlation_id", rec.CorrelationID))
	}
	if res.Recipient != "" {
		log = log.With(slog.String("recipient", res.Recipient))
	}

	if res.Err == nil {
		log.Info("record processed",
			slog.String("object_key", res.Key),
			slog.Bool("notified", res.Notified),
			slog.Duration("elapsed", elapsed),
		)
	} else {
		attrs := []any{
			slog.String("stage", string(res.Err.Kind)),
			slog.Int("error_code", res.Err.Code()),
			slog.Any("error", res.Err),
		}
		if res.Key != "" {
			attrs = append(attrs, slog.String("object_key", res.Key))
		}
		if res.Err.Kind == document.KindDecode || res.Recipient == "" {
			attrs = append(attrs, slog.String("body", truncate(rec.Body, maxLoggedBody)))
		}
		log.Error("record failed", attrs...)
	}

	if c.recorder == nil {
		return
	}
	// The ledger row is written even when the batch context is gone.
	if err := c.recorder.RecordDelivery(context.WithoutCancel(ctx), deliveryFromResult(res, c.notifier.Strategy())); err != nil {
		log.Warn("record delivery failed", slog.Any("error", err))
	}
}

func deliveryFromResult(res Result, strategy notify.Strategy) database.Delivery {
	d := database.Delivery{
		RecordID:      res.RecordID,
		CorrelationID: res.CorrelationID,
		ObjectKey:     res.Key,
		Recipient:     res.Recipient,
		Strategy:      string(strategy),
		Notified:      res.Notified,
		Status:        database.StatusCompleted,
	}
	if res.Err != nil {
		d.Status = database.StatusFailed
		d.Stage = string(res.Err.Kind)
		d.ErrorCode = res.Err.Code()
		// 列宽由 ledger 负责裁剪。
		d.ErrorMessage = res.Err.Error()
	}
	return d
}

// truncate 按 rune 截断，结果（含省略号）不超过 limit 个字符，且总是合法 UTF-8。
func truncate(b []byte, limit int) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	const ellipsis = "..."
	keep := limit - len(ellipsis)
	for i := range s {
		if keep == 0 {
			return s[:i] + ellipsis
		}
		keep--
	}
	return s
}

// ErrEmptyBatch is returned by transport adapters that receive no records.
var ErrEmptyBatch = errors.New("empty batch")
