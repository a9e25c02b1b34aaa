package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationHeader 携带关联 ID；它随任务进入队列，worker 日志和投递记录都用它串起来。
const CorrelationHeader = "X-Correlation-ID"

const (
	correlationKey = "correlationID"
	// 与 deliveries.correlation_id 列宽一致。
	maxCorrelationLen = 64
)

// Correlation 为请求确定关联 ID。调用方给出的值合法时沿用，否则生成新的 UUID。
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

// GetCorrelationID 返回 Correlation 中间件选定的 ID。
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// validCorrelationID 只接受 [A-Za-z0-9._-]，长度不超过 maxCorrelationLen。
func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch ch := id[i]; {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}
