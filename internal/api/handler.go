package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-engine/internal/engine"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// Engine 接口层依赖的 Registry 操作
type Engine interface {
	Register(strategyType string, params map[string]any) (string, error)
	Start(ctx context.Context, id string) error
	Pause(id string) error
	Resume(id string) error
	Stop(id string) error
	Status(id string) (strategy.Snapshot, error)
	List() []strategy.Snapshot
	Remove(id string) error
	CancelOrders(ctx context.Context, id string) (engine.CancelResult, error)
	StopAll() error
}

// PositionReader 查询券商持仓
type PositionReader interface {
	GetPosition(ctx context.Context, symbol string) (*order.Position, error)
}

// Handler 策略管理接口
type Handler struct {
	engine    Engine
	positions PositionReader
	logger    *zap.Logger
}

func NewHandler(e Engine, positions PositionReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: e, positions: positions, logger: logger.Named("api")}
}

// CreateRequest 创建策略请求，start 为 true 时注册后立即启动
type CreateRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
	Start  bool           `json:"start"`
}

// Load 注册路由
func (h *Handler) Load(g *gin.Engine) {
	base := g.Group("/api/v1")

	s := base.Group("/strategies")
	{
		s.POST("", h.CreateStrategy())
		s.GET("", h.ListStrategies())
		s.POST("/stop-all", h.StopAll())
		s.GET("/:id", h.GetStrategy())
		s.DELETE("/:id", h.RemoveStrategy())
		s.POST("/:id/start", h.StartStrategy())
		s.POST("/:id/pause", h.command(h.engine.Pause))
		s.POST("/:id/resume", h.command(h.engine.Resume))
		s.POST("/:id/stop", h.command(h.engine.Stop))
		s.POST("/:id/cancel-orders", h.CancelOrders())
	}

	base.GET("/schema/:type", h.GetSchema())
	base.GET("/positions/:symbol", h.GetPosition())
}

func (h *Handler) CreateStrategy() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, strategy.ValidationError("invalid request body: %v", err))
			return
		}
		if req.Type == "" {
			fail(c, strategy.ValidationError("type is required"))
			return
		}

		id, err := h.engine.Register(req.Type, req.Params)
		if err != nil {
			fail(c, err)
			return
		}
		if req.Start {
			if err := h.engine.Start(c.Request.Context(), id); err != nil {
				// 实例已注册，失败后仍可通过 Location 查询
				c.Header("Location", "/api/v1/strategies/"+id)
				h.logger.Warn("start after register failed", zap.String("strategy_id", id), zap.Error(err))
				fail(c, err)
				return
			}
		}
		h.respondStatus(c, id, http.StatusCreated)
	}
}

func (h *Handler) ListStrategies() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, http.StatusOK, h.engine.List())
	}
}

// StopAll 停止所有 running/paused 实例，返回停止后的列表
func (h *Handler) StopAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.engine.StopAll(); err != nil {
			h.logger.Warn("stop all strategies failed", zap.Error(err))
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, h.engine.List())
	}
}

func (h *Handler) GetStrategy() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.respondStatus(c, c.Param("id"), http.StatusOK)
	}
}

func (h *Handler) StartStrategy() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.engine.Start(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		h.respondStatus(c, id, http.StatusOK)
	}
}

// command pause/resume/stop 共用的处理逻辑
func (h *Handler) command(fn func(id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(id); err != nil {
			fail(c, err)
			return
		}
		h.respondStatus(c, id, http.StatusOK)
	}
}

func (h *Handler) RemoveStrategy() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.engine.Remove(id); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"id": id})
	}
}

func (h *Handler) CancelOrders() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.engine.CancelOrders(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, res)
	}
}

func (h *Handler) GetSchema() gin.HandlerFunc {
	return func(c *gin.Context) {
		specs, err := strategy.Schema(strategy.StrategyType(strings.ToLower(c.Param("type"))))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, specs)
	}
}

func (h *Handler) GetPosition() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := strings.ToUpper(c.Param("symbol"))
		if h.positions == nil {
			fail(c, strategy.ExecutionFailure(errNoPositions))
			return
		}
		pos, err := h.positions.GetPosition(c.Request.Context(), symbol)
		if err != nil {
			fail(c, strategy.GatewayFailure("get_position", err))
			return
		}
		if pos == nil {
			pos = &order.Position{Symbol: symbol}
		}
		ok(c, http.StatusOK, pos)
	}
}

func (h *Handler) respondStatus(c *gin.Context, id string, status int) {
	snap, err := h.engine.Status(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, status, snap)
}
