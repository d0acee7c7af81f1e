// Package handler 把引擎的服务接口暴露为 HTTP API
package handler

import (
	"context"
	"crypto-swing-trader/internal/engine"
	"crypto-swing-trader/internal/model"
	"crypto-swing-trader/internal/portfolio"
	"crypto-swing-trader/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Service 引擎对外的全部操作，由 engine.Engine 实现
type Service interface {
	Snapshot() (model.MarketSnapshot, bool)
	LastReport() (engine.CycleReport, bool)
	State() engine.CycleState
	PortfolioStatus() portfolio.Status
	OpenOrders() []model.Order
	Config() service.TradingConfig
	ApplyConfig(patch service.TradingPatch) (service.TradingConfig, error)
	ForceWalkAway(ctx context.Context) ([]model.Order, error)
	Resume()
	SetGain(gain float64)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// StateResponse GET /state
type StateResponse struct {
	State    engine.CycleState    `json:"state"`
	Snapshot *model.MarketSnapshot `json:"snapshot"`
	Report   *engine.CycleReport  `json:"report,omitempty"`
}

// StateGet 最近一轮的市场快照，交易对按当前策略指标排序。还没完成过一轮时 snapshot 为 null
func (h *Handler) StateGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StateResponse{State: h.svc.State()}
		if snap, ok := h.svc.Snapshot(); ok {
			resp.Snapshot = &snap
		}
		if r, ok := h.svc.LastReport(); ok {
			resp.Report = &r
		}
		JSON(c, http.StatusOK, nil, resp)
	}
}

func (h *Handler) ConfigGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		JSON(c, http.StatusOK, nil, h.svc.Config())
	}
}

// ConfigPost 部分更新策略配置，返回生效后的配置。非法值返回 400 且旧配置保持不变
func (h *Handler) ConfigPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch service.TradingPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			JSON(c, http.StatusBadRequest, err, nil)
			return
		}
		cfg, err := h.svc.ApplyConfig(patch)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrConfigurationInvalid) {
				status = http.StatusBadRequest
			}
			JSON(c, status, err, cfg)
			return
		}
		JSON(c, http.StatusOK, nil, cfg)
	}
}

func (h *Handler) PortfolioGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		JSON(c, http.StatusOK, nil, h.svc.PortfolioStatus())
	}
}

type gainRequest struct {
	Gain *float64 `json:"gain" binding:"required"`
}

// GainPost 手动覆盖收益，例如 {"gain": 0.02}
func (h *Handler) GainPost() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req gainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			JSON(c, http.StatusBadRequest, err, nil)
			return
		}
		h.svc.SetGain(*req.Gain)
		JSON(c, http.StatusOK, nil, h.svc.PortfolioStatus())
	}
}

func (h *Handler) OrdersGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		JSON(c, http.StatusOK, nil, h.svc.OpenOrders())
	}
}

// Walk 立即熔断，返回被重新挂出的卖单
func (h *Handler) Walk() gin.HandlerFunc {
	return func(c *gin.Context) {
		replaced, err := h.svc.ForceWalkAway(c.Request.Context())
		if err != nil {
			JSON(c, http.StatusServiceUnavailable, err, nil)
			return
		}
		JSON(c, http.StatusOK, nil, gin.H{"replaced": replaced, "portfolio": h.svc.PortfolioStatus()})
	}
}

func (h *Handler) Resume() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.svc.Resume()
		JSON(c, http.StatusOK, nil, h.svc.PortfolioStatus())
	}
}

func Healthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	}
}
