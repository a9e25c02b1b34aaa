package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	// TypeDocumentRequest carries one request body and its correlation id.
	TypeDocumentRequest = "document:request"
	// TypeDocumentBatch carries requests merged by the group aggregator.
	TypeDocumentBatch = "document:batch"
)

// GroupDocuments is the asynq group request tasks are aggregated under.
const GroupDocuments = "documents"

// RequestPayload is the payload of a request task. Body is the producer's
// record, carried verbatim.
type RequestPayload struct {
	CorrelationID string  `json:"correlation_id,omitempty"`
	Body          *string `json:"body"`
}

// BatchRecord is one opaque record inside a batch payload.
type BatchRecord struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Body          string `json:"body"`
}

// BatchPayload is the aggregated task payload.
type BatchPayload struct {
	Group   string        `json:"group"`
	Records []BatchRecord `json:"records"`
}

// NewDocumentRequestTask wraps a raw request body together with the
// correlation id of the request that produced it. The body is not
// inspected; decoding happens in the worker so malformed input fails only
// its own record.
func NewDocumentRequestTask(body []byte, correlationID string) *asynq.Task {
	text := string(body)
	// Marshalling strings cannot fail.
	payload, _ := json.Marshal(RequestPayload{CorrelationID: correlationID, Body: &text})
	return asynq.NewTask(TypeDocumentRequest, payload)
}

// UnwrapRequest returns the record body and correlation id of a request
// task payload. A payload that is not a RequestPayload is taken as the
// bare record body.
func UnwrapRequest(payload []byte) (body []byte, correlationID string) {
	var req RequestPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Body == nil {
		return payload, ""
	}
	return []byte(*req.Body), req.CorrelationID
}

// AggregateDocuments merges grouped request tasks into one batch task.
// Each record gets a fresh identifier; the request's correlation id is
// kept alongside it.
func AggregateDocuments(group string, grouped []*asynq.Task) *asynq.Task {
	records := make([]BatchRecord, 0, len(grouped))
	for _, t := range grouped {
		body, correlationID := UnwrapRequest(t.Payload())
		records = append(records, BatchRecord{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Body:          string(body),
		})
	}
	// Marshalling strings cannot fail.
	payload, _ := json.Marshal(BatchPayload{Group: group, Records: records})
	return asynq.NewTask(TypeDocumentBatch, payload)
}

// DecodeBatch parses an aggregated payload.
func DecodeBatch(payload []byte) ([]BatchRecord, error) {
	var batch BatchPayload
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("decode batch payload: %w", err)
	}
	return batch.Records, nil
}

// RequestOptions routes request tasks into the batching group.
func RequestOptions(queue string) []asynq.Option {
	opts := []asynq.Option{asynq.Group(GroupDocuments)}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return opts
}
