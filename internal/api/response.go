package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pdfdispatch/internal/errcode"
)

// Error 输出统一的错误响应体。
func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.InvalidInput, msg)
}

func TooManyRequests(c *gin.Context) {
	Error(c, http.StatusTooManyRequests, errcode.RateLimited, "too many requests")
}

func Unavailable(c *gin.Context, msg string) {
	Error(c, http.StatusServiceUnavailable, errcode.SystemError, msg)
}

func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}
