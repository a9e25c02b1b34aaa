package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"pdfdispatch/internal/api/middleware"
	"pdfdispatch/internal/database"
	"pdfdispatch/internal/document"
	"pdfdispatch/internal/errcode"
	"pdfdispatch/internal/tasks"
)

// maxRequestBytes bounds one intake body.
const maxRequestBytes = 1 << 20

// Enqueuer is the subset of *asynq.Client used by the intake handler.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DeliveryLister reads the delivery ledger.
type DeliveryLister interface {
	RecentByRecipient(ctx context.Context, recipient string, limit int) ([]database.Delivery, error)
}

// DocumentHandler 负责接收生成请求并投递到队列。
type DocumentHandler struct {
	enqueuer         Enqueuer
	queue            string
	requireRecipient bool
	limiter          redisRateCounter
	rateLimit        int
	deliveries       DeliveryLister
	now              func() time.Time
}

// NewDocumentHandler 创建处理器。limiter 或 deliveries 为 nil 时对应功能关闭。
func NewDocumentHandler(enqueuer Enqueuer, queue string, requireRecipient bool, limiter redisRateCounter, rateLimit int, deliveries DeliveryLister) *DocumentHandler {
	return &DocumentHandler{
		enqueuer:         enqueuer,
		queue:            queue,
		requireRecipient: requireRecipient,
		limiter:          limiter,
		rateLimit:        rateLimit,
		deliveries:       deliveries,
		now:              time.Now,
	}
}

type enqueueResponse struct {
	TaskID        string `json:"task_id"`
	Queue         string `json:"queue"`
	CorrelationID string `json:"correlation_id"`
}

// CreateDocument validates the body against the worker's rules and enqueues
// it untouched, so invalid requests are refused before they reach the queue.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	log := middleware.LoggerFromContext(c)
	ctx := c.Request.Context()

	if h.limiter != nil && h.rateLimit > 0 {
		count, err := incrWithTTL(ctx, h.limiter, intakeRateKey(c.ClientIP(), h.now()), time.Hour)
		if err != nil {
			// 限流依赖 Redis，失败时放行，队列本身同样依赖 Redis。
			log.Warn("intake rate counter failed", slog.Any("error", err))
		} else if count > int64(h.rateLimit) {
			TooManyRequests(c)
			return
		}
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, errcode.InvalidInput, "request body too large")
			return
		}
		BadRequest(c, "read request body failed")
		return
	}

	if _, err := document.Decode(raw, h.requireRecipient); err != nil {
		log.Info("rejecting document request", slog.Any("error", err))
		BadRequest(c, err.Error())
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task := tasks.NewDocumentRequestTask(raw, correlationID)
	info, err := h.enqueuer.EnqueueContext(ctx, task, tasks.RequestOptions(h.queue)...)
	if err != nil {
		log.Error("enqueue document request failed", slog.Any("error", err))
		Unavailable(c, "queue unavailable")
		return
	}

	log.Info("document request enqueued", slog.String("task_id", info.ID), slog.String("queue", info.Queue))
	c.JSON(http.StatusAccepted, enqueueResponse{
		TaskID:        info.ID,
		Queue:         info.Queue,
		CorrelationID: correlationID,
	})
}

type deliveryResponse struct {
	RecordID      string    `json:"record_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ObjectKey     string    `json:"object_key,omitempty"`
	Strategy      string    `json:"strategy"`
	Notified      bool      `json:"notified"`
	Status        string    `json:"status"`
	Stage         string    `json:"stage,omitempty"`
	ErrorCode     int       `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListDeliveries 返回某个收件人最近的投递记录。
func (h *DocumentHandler) ListDeliveries(c *gin.Context) {
	if h.deliveries == nil {
		Error(c, http.StatusNotFound, errcode.SystemError, "delivery ledger disabled")
		return
	}

	recipient := strings.TrimSpace(c.Query("email"))
	if recipient == "" {
		BadRequest(c, "email is required")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	rows, err := h.deliveries.RecentByRecipient(c.Request.Context(), recipient, limit)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list deliveries failed", slog.Any("error", err))
		Internal(c, "list deliveries failed")
		return
	}

	out := make([]deliveryResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, deliveryResponse{
			RecordID:      d.RecordID,
			CorrelationID: d.CorrelationID,
			ObjectKey:     d.ObjectKey,
			Strategy:      d.Strategy,
			Notified:      d.Notified,
			Status:        d.Status,
			Stage:         d.Stage,
			ErrorCode:     d.ErrorCode,
			ErrorMessage:  d.ErrorMessage,
			CreatedAt:     d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": out})
}
