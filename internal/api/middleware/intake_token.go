package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IntakeTokenHeader carries the shared intake token.
const IntakeTokenHeader = "X-Intake-Token"

// IntakeTokenMiddleware 校验提交方携带的共享令牌；token 为空时不做校验。
func IntakeTokenMiddleware(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		// 令牌只走 Header，避免 query 泄露到访问日志。
		got := strings.TrimSpace(c.GetHeader(IntakeTokenHeader))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
