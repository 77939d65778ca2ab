package middleware

import (
	"net/http"

	"MarketChat/logger"
	"MarketChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorBody REST 错误统一格式
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// Fail 按错误码写状态和 {error: msg}，5xx 记日志
func Fail(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	body := ErrorBody{Error: errs.Message(err)}
	if ce, ok := errs.AsCode(err); ok {
		body.Code = ce.Code
	}
	if status >= http.StatusInternalServerError {
		logger.Error("[HTTP] request failed",
			zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Recovery panic 转 500，不把堆栈吐给客户端
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				Fail(c, errs.ErrPanic(r))
			}
		}()
		c.Next()
	}
}
