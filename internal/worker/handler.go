package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"pdfdispatch/internal/tasks"
)

// BatchHandler 负责消费文档任务，聚合批次与单条请求都走同一条流水线。
type BatchHandler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewBatchHandler 创建任务处理器。
func NewBatchHandler(coordinator *Coordinator, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{coordinator: coordinator, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
//
// 单条记录的失败只记日志，不会让整个任务重试；因此这里始终返回 nil。
func (h *BatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger.With(slog.String("task_type", t.Type()))
	taskID, _ := asynq.GetTaskID(ctx)
	if taskID != "" {
		log = log.With(slog.String("task_id", taskID))
	}

	records, err := recordsFromTask(taskID, t)
	if err != nil {
		log.Error("decode task payload failed", slog.Any("error", err))
		return nil
	}
	if len(records) == 0 {
		log.Warn("skipping task", slog.Any("error", ErrEmptyBatch))
		return nil
	}

	summary := h.coordinator.ProcessBatch(ctx, records)
	log.Info("document task completed",
		slog.Int("total", summary.Total),
		slog.Int("failed", summary.Failed),
	)
	return nil
}

func recordsFromTask(taskID string, t *asynq.Task) ([]Record, error) {
	switch t.Type() {
	case tasks.TypeDocumentBatch:
		batch, err := tasks.DecodeBatch(t.Payload())
		if err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(batch))
		for _, r := range batch {
			records = append(records, Record{ID: r.ID, CorrelationID: r.CorrelationID, Body: []byte(r.Body)})
		}
		return records, nil
	default:
		// 未分组的单条请求视为只有一条记录的批次。
		body, correlationID := tasks.UnwrapRequest(t.Payload())
		return []Record{{ID: taskID, CorrelationID: correlationID, Body: body}}, nil
	}
}
