package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-engine/strategy"
)

var errNoPositions = errors.New("position source not configured")

// NewRouter 创建 gin 引擎并挂载所有接口
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := gin.New()
	g.Use(RequestLogger(logger.Named("http")), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("handler panic", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		fail(c, strategy.ExecutionFailure(errors.New("internal error")))
		c.Abort()
	}))
	g.GET("/healthz", func(c *gin.Context) {
		ok(c, http.StatusOK, gin.H{"status": "ok"})
	})
	g.NoRoute(func(c *gin.Context) {
		fail(c, &strategy.Error{Kind: strategy.KindNotFound, Message: "route " + c.Request.URL.Path + " not found"})
	})
	h.Load(g)
	return g
}

// RequestLogger 记录每个请求的方法、路径、状态码与耗时
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request served", fields...)
	}
}
