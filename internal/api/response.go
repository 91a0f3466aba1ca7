package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"strategy-engine/strategy"
)

// Envelope 所有接口统一的响应结构
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody 机器可读的错误类别与描述
type ErrorBody struct {
	Kind    strategy.Kind `json:"kind"`
	Message string        `json:"message"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

func fail(c *gin.Context, err error) {
	kind := strategy.KindOf(err)
	c.JSON(statusFor(kind), Envelope{
		Success: false,
		Error:   &ErrorBody{Kind: kind, Message: strategy.Message(err)},
	})
}

// statusFor 错误类别到 HTTP 状态码
func statusFor(kind strategy.Kind) int {
	switch kind {
	case strategy.KindValidation:
		return http.StatusBadRequest
	case strategy.KindNotFound:
		return http.StatusNotFound
	case strategy.KindInvalidState, strategy.KindAlreadyRunning:
		return http.StatusConflict
	case strategy.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
