package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 挂载全部接口。ws 为 nil 时不提供 /ws
type Router struct {
	h  *Handler
	ws http.HandlerFunc
}

func NewRouter(h *Handler, ws http.HandlerFunc) *Router {
	return &Router{h: h, ws: ws}
}

func (r *Router) Load(g *gin.Engine) {
	g.GET("/healthz", Healthz())
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if r.ws != nil {
		g.GET("/ws", gin.WrapF(r.ws))
	}

	g.GET("/state", r.h.StateGet())
	g.GET("/config", r.h.ConfigGet())
	g.POST("/config", r.h.ConfigPost())
	g.GET("/portfolio", r.h.PortfolioGet())
	g.POST("/gain", r.h.GainPost())
	g.GET("/orders", r.h.OrdersGet())

	// 与旧看板兼容，GET 和 POST 都接受
	g.GET("/walk", r.h.Walk())
	g.POST("/walk", r.h.Walk())
	g.GET("/resume", r.h.Resume())
	g.POST("/resume", r.h.Resume())
}

// NewEngine 创建 gin 实例并加载路由
func NewEngine(r *Router, middleware ...gin.HandlerFunc) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(middleware...)
	r.Load(g)
	return g
}

// RequestLogger 每个请求一条访问日志
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
