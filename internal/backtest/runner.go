package backtest

import (
	"bb-rsi-backtest-go/internal/candles"
	"bb-rsi-backtest-go/internal/config"
	"bb-rsi-backtest-go/internal/indicators"
	"bb-rsi-backtest-go/internal/models"
	"bb-rsi-backtest-go/internal/strategy"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Loader 提供入场周期与趋势周期两组K线
type Loader interface {
	LoadPair(ctx context.Context, entry, trend candles.Request) ([]models.Candle, []models.Candle, error)
}

// Runner 加载K线并驱动状态机，每次 Run 都使用全新的状态
type Runner struct {
	loader Loader
	logger *zap.Logger
}

// NewRunner 创建一个新的 Runner
func NewRunner(loader Loader, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{loader: loader, logger: logger}
}

// Run 执行一次完整回测。数据源失败时返回错误，历史为空时返回空结果。
func (r *Runner) Run(ctx context.Context, cfg models.BacktestConfig) (*models.RunResult, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	dir, _ := candles.ParseDirection(cfg.Direction)
	anchor := config.AnchorTime(cfg)

	started := time.Now()
	entry, trend, err := r.loader.LoadPair(ctx,
		candles.Request{Instrument: cfg.Instrument, Granularity: cfg.EntryGranularity, Anchor: anchor, Count: cfg.EntryCandles, Direction: dir},
		candles.Request{Instrument: cfg.Instrument, Granularity: cfg.TrendGranularity, Anchor: anchor, Count: cfg.TrendCandles, Direction: dir},
	)
	if err != nil {
		return nil, fmt.Errorf("加载K线失败: %w", err)
	}
	if len(trend) == 0 {
		r.logger.Warn("趋势周期没有K线，趋势方向按 short 处理", zap.String("granularity", cfg.TrendGranularity))
	}

	res, err := simulate(ctx, entry, trend, cfg)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.NewString()

	r.logger.Info("回测完成",
		zap.String("run_id", res.ID),
		zap.String("instrument", cfg.Instrument),
		zap.Int("entry_candles", len(entry)),
		zap.Int("trend_candles", len(trend)),
		zap.String("trend", string(res.Stats.Trend)),
		zap.Int("trades", res.Stats.TradeCount),
		zap.Float64("total_profit", res.Stats.TotalProfit),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

// Simulate 是不含 I/O 的回测核心：相同输入总是得到相同输出
func Simulate(entry, trend []models.Candle, cfg models.BacktestConfig) *models.RunResult {
	res, _ := simulate(context.Background(), entry, trend, cfg)
	return res
}

// IndicatorParams 将回测配置映射为指标参数，其余周期使用默认值
func IndicatorParams(cfg models.BacktestConfig) indicators.Params {
	p := indicators.DefaultParams()
	if cfg.RSIPeriod > 0 {
		p.RSIPeriod = cfg.RSIPeriod
	}
	if cfg.BBPeriod > 0 {
		p.BBPeriod = cfg.BBPeriod
	}
	if cfg.BBStd > 0 {
		p.BBStdMult = cfg.BBStd
	}
	return p
}

func simulate(ctx context.Context, entry, trend []models.Candle, cfg models.BacktestConfig) (*models.RunResult, error) {
	res := &models.RunResult{
		Instrument: cfg.Instrument,
		Snapshots:  []models.Snapshot{},
		Trades:     []models.Trade{},
	}
	span := cfg.TrendEMASpan
	if span <= 0 {
		span = 200
	}
	direction := indicators.TrendDirection(trend, span)
	res.Stats.Trend = direction
	if len(entry) == 0 {
		return res, nil
	}

	rows := indicators.Compute(entry, IndicatorParams(cfg))
	sim := strategy.NewSimulator(strategy.SettingsFrom(cfg))

	// 第 0 根只用于提供"前一根"的数据
	res.Snapshots = make([]models.Snapshot, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim.Step(rows[i], direction)
		res.Snapshots = append(res.Snapshots, snapshot(rows[i], sim))
	}

	res.Trades = sim.Trades()
	stats := sim.Stats()
	stats.Trend = direction
	res.Stats = stats
	return res, nil
}

func snapshot(row models.IndicatorRow, sim *strategy.Simulator) models.Snapshot {
	stats := sim.Stats()
	snap := models.Snapshot{
		Time:        row.Time.Unix(),
		Open:        row.Open,
		High:        row.High,
		Low:         row.Low,
		Close:       row.Close,
		BBUpper:     models.FloatPtr(row.BBUpper),
		BBLower:     models.FloatPtr(row.BBLower),
		TotalProfit: decimal.NewFromFloat(stats.TotalProfit).Round(2).InexactFloat64(),
		TradeCount:  stats.TradeCount,
	}
	if pos, ok := sim.Position(); ok {
		snap.TrailingSL = pos.StopLoss
		snap.EntryPrice = pos.EntryPrice
	}
	return snap
}
