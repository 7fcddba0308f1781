// Package api 信号 webhook：POST /api/signal 触发交易，GET /api/state 查询状态。
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/signaltrader/internal/coordinator"
	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/execution"
	"github.com/betbot/signaltrader/internal/metrics"
	"github.com/betbot/signaltrader/internal/risk"
)

var log = logrus.WithField("component", "api")

// Engine API 依赖的交易引擎能力
type Engine interface {
	Submit(ctx context.Context, side domain.Side) (<-chan coordinator.TradeResult, error)
	State(ctx context.Context) (coordinator.Snapshot, error)
}

// Config API 配置
type Config struct {
	Listen string
	Token  string
	// DedupeWindow 同一交易对同一方向的重复信号在该窗口内被拒绝
	DedupeWindow time.Duration
	// Breaker 可选；提供时启用 POST /api/resume
	Breaker *risk.CircuitBreaker
}

// Server HTTP 服务
type Server struct {
	cfg    Config
	engine Engine
	dedupe *execution.SignalDedupe
	srv    *http.Server
}

// New 创建服务（不监听）
func New(cfg Config, engine Engine) *Server {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 10 * time.Second
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		dedupe: execution.NewSignalDedupe(cfg.DedupeWindow),
	}
}

// Router 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	authed := r.Group("/", s.auth())
	authed.POST("/api/signal", s.handleSignal)
	authed.GET("/api/state", s.handleState)
	authed.POST("/api/resume", s.handleResume)
	authed.Any("/debug/*path", gin.WrapH(metrics.Handler()))
	return r
}

// Start 后台监听；监听失败通过返回的通道报告
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.srv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("信号 API 监听 %s", s.cfg.Listen)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http request")
	}
}

// auth Bearer token 校验
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if s.cfg.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type signalRequest struct {
	Action string `json:"action" binding:"required"`
	// Wait 为 true 时等待生命周期结束后返回结果
	Wait bool `json:"wait"`
}

func (s *Server) handleSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	side, err := domain.ParseSide(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metrics.SignalsReceived.Add(1)

	snap, err := s.engine.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err := s.dedupe.Claim(snap.Pair, side); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate signal", "pair": snap.Pair.String(), "action": side})
		return
	}

	ch, err := s.engine.Submit(c.Request.Context(), side)
	if err != nil {
		// 未被接受的信号不占用去重窗口
		s.dedupe.Forget(snap.Pair, side)
		c.JSON(submitStatus(err), gin.H{"error": err.Error()})
		return
	}
	log.WithFields(logrus.Fields{"pair": snap.Pair.String(), "side": side}).Info("信号已接受")

	if !req.Wait {
		go func() {
			res := <-ch
			if res.Err != nil {
				log.Errorf("%s %s 失败: %v", snap.Pair, side, res.Err)
				return
			}
			log.Infof("%s %s", snap.Pair, res.Outcome)
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "pair": snap.Pair.String(), "action": side})
		return
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": res.Err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcomeView(res.Outcome))
	case <-c.Request.Context().Done():
		// 客户端断开；生命周期继续运行
	}
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrLifecycleInFlight):
		return http.StatusConflict
	case errors.Is(err, risk.ErrCircuitBreakerOpen), errors.Is(err, coordinator.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleState(c *gin.Context) {
	snap, err := s.engine.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stateView(snap))
}

func (s *Server) handleResume(c *gin.Context) {
	if s.cfg.Breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "circuit breaker not configured"})
		return
	}
	s.cfg.Breaker.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// ---- 响应结构 ----

type outcomeResponse struct {
	Side     domain.Side        `json:"side"`
	State    string             `json:"state"`
	Attempts int                `json:"attempts"`
	OrderID  domain.OrderHandle `json:"order_id,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Summary  string             `json:"summary"`
}

func outcomeView(o coordinator.Outcome) outcomeResponse {
	out := outcomeResponse{
		Side:     o.Side,
		State:    o.State.String(),
		Attempts: o.Attempts,
		Summary:  o.String(),
	}
	if o.Order != nil {
		out.OrderID = o.Order.ID
	}
	switch {
	case o.Reason != nil:
		out.Reason = o.Reason.Error()
	case o.SkipReason != "":
		out.Reason = o.SkipReason
	}
	return out
}

type stateResponse struct {
	Exchange     string                     `json:"exchange"`
	Pair         string                     `json:"pair"`
	Direct       bool                       `json:"direct"`
	Infinity     bool                       `json:"infinity_order"`
	MinOrder     decimal.Decimal            `json:"minimal_order"`
	MinOrderUnit domain.MinimalOrderUnit    `json:"minimal_order_unit"`
	Balance      map[string]decimal.Decimal `json:"balance"`
	Fee          decimal.Decimal            `json:"fee"`
	RefreshedAt  time.Time                  `json:"refreshed_at"`
	Bid          decimal.Decimal            `json:"bid"`
	Ask          decimal.Decimal            `json:"ask"`
	LastAction   domain.Side                `json:"last_action,omitempty"`
	LastBuy      decimal.Decimal            `json:"last_buy"`
	LastSell     decimal.Decimal            `json:"last_sell"`
	LastFillAt   *time.Time                 `json:"last_fill_at,omitempty"`
	Busy         bool                       `json:"busy"`
	Halted       bool                       `json:"halted"`
	Errors       int64                      `json:"consecutive_errors"`
	LastOutcome  *outcomeResponse           `json:"last_outcome,omitempty"`
	LastError    string                     `json:"last_error,omitempty"`
}

func stateView(s coordinator.Snapshot) stateResponse {
	out := stateResponse{
		Exchange:     s.Exchange,
		Pair:         s.Pair.String(),
		Direct:       s.Capabilities.Direct,
		Infinity:     s.Capabilities.InfinityOrder,
		MinOrder:     s.Capabilities.MinimalOrder.Amount,
		MinOrderUnit: s.Capabilities.MinimalOrder.Unit,
		Balance:      s.Balance,
		Fee:          s.Fee,
		RefreshedAt:  s.RefreshedAt,
		Bid:          s.Ticker.Bid,
		Ask:          s.Ticker.Ask,
		LastAction:   s.TradeContext.LastAction,
		LastBuy:      s.TradeContext.LastBuy,
		LastSell:     s.TradeContext.LastSell,
		Busy:         s.Busy,
		Halted:       s.Halted,
		Errors:       s.ConsecutiveErrors,
		LastError:    s.LastError,
	}
	if !s.TradeContext.LastFillAt.IsZero() {
		t := s.TradeContext.LastFillAt
		out.LastFillAt = &t
	}
	if s.LastOutcome != nil {
		o := outcomeView(*s.LastOutcome)
		out.LastOutcome = &o
	}
	return out
}
