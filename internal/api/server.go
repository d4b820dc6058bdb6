package api

import (
	"bb-rsi-backtest-go/internal/candles"
	"bb-rsi-backtest-go/internal/config"
	"bb-rsi-backtest-go/internal/models"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Runner 执行一次回测
type Runner interface {
	Run(ctx context.Context, cfg models.BacktestConfig) (*models.RunResult, error)
}

// ResultStore 保存已完成的运行，供按 ID 查询
type ResultStore interface {
	Submit(res *models.RunResult)
	Get(id string) (*models.RunResult, bool, error)
}

// Server 把 GET /backtest 映射到 Runner，自身不含策略逻辑
type Server struct {
	addr     string
	runner   Runner
	results  ResultStore
	defaults models.BacktestConfig
	router   *gin.Engine
	logger   *zap.Logger
}

// Option 配置 Server
type Option func(*Server)

// WithResults 启用结果保存与 GET /backtest/:id
func WithResults(store ResultStore) Option {
	return func(s *Server) { s.results = store }
}

// NewServer 创建 HTTP 服务。defaults 为请求未指定参数时使用的配置。
func NewServer(addr string, runner Runner, defaults models.BacktestConfig, logger *zap.Logger, opts ...Option) *Server {
	if addr == "" {
		addr = ":8000"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), allowAllOrigins())

	s := &Server{
		addr:     addr,
		runner:   runner,
		defaults: defaults,
		router:   router,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/backtest", s.handleBacktest)
	if s.results != nil {
		s.router.GET("/backtest/:id", s.handleResult)
	}
}

// Handler 返回底层 http.Handler，便于测试
func (s *Server) Handler() http.Handler { return s.router }

// Run 启动监听，ctx 结束时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleBacktest(c *gin.Context) {
	cfg, err := s.overrides(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.runner.Run(c.Request.Context(), cfg)
	if err != nil {
		status := statusFor(err)
		s.logger.Warn("回测请求失败", zap.Int("status", status), zap.Error(err))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if s.results != nil {
		s.results.Submit(res)
	}
	c.JSON(http.StatusOK, resultBody(res))
}

func (s *Server) handleResult(c *gin.Context) {
	id := c.Param("id")
	res, ok, err := s.results.Get(id)
	if err != nil {
		s.logger.Error("读取回测结果失败", zap.String("run_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, resultBody(res))
}

func resultBody(res *models.RunResult) gin.H {
	return gin.H{
		"id":        res.ID,
		"chartData": res.Snapshots,
		"trades":    res.Trades,
		"stats":     res.Stats,
	}
}

// overrides 在默认配置上叠加查询参数
func (s *Server) overrides(c *gin.Context) (models.BacktestConfig, error) {
	cfg := s.defaults
	str := map[string]*string{
		"instrument":        &cfg.Instrument,
		"entry_granularity": &cfg.EntryGranularity,
		"trend_granularity": &cfg.TrendGranularity,
		"end":               &cfg.End,
		"direction":         &cfg.Direction,
	}
	ints := map[string]*int{
		"num_candles":    &cfg.EntryCandles,
		"trend_candles":  &cfg.TrendCandles,
		"rsi_period":     &cfg.RSIPeriod,
		"bb_period":      &cfg.BBPeriod,
		"trend_ema_span": &cfg.TrendEMASpan,
	}
	floats := map[string]*float64{
		"bb_std":              &cfg.BBStd,
		"rvol_threshold":      &cfg.RVolThreshold,
		"sltp_ratio":          &cfg.SLTPRatio,
		"long_rsi_threshold":  &cfg.LongRSIThreshold,
		"short_rsi_threshold": &cfg.ShortRSIThreshold,
	}
	bools := map[string]*bool{
		"long_enabled":        &cfg.LongEnabled,
		"short_enabled":       &cfg.ShortEnabled,
		"short_requires_rvol": &cfg.ShortRequiresRVol,
	}

	for key, dst := range str {
		if v, ok := c.GetQuery(key); ok {
			*dst = v
		}
	}
	for key, dst := range ints {
		if v, ok := c.GetQuery(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("参数 %s 不是整数: %q", key, v)
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v, ok := c.GetQuery(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return cfg, fmt.Errorf("参数 %s 不是数字: %q", key, v)
			}
			*dst = f
		}
	}
	for key, dst := range bools {
		if v, ok := c.GetQuery(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return cfg, fmt.Errorf("参数 %s 不是布尔值: %q", key, v)
			}
			*dst = b
		}
	}
	return cfg, config.Validate(cfg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, candles.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// allowAllOrigins 允许任意来源访问，图表前端与服务不同源
func allowAllOrigins() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
