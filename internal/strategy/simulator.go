package strategy

import (
	"bb-rsi-backtest-go/internal/models"
	"math"
	"time"
)

// 追踪止损参数：价格靠近下轨时给 35% 带宽的空间，靠近上轨时收紧到 5%
const (
	MinTrail      = 0.05
	MaxTrail      = 0.35
	TrailExponent = 2.5
	// ChopRatio 短周期 ATR 低于长周期 ATR 的该比例时视为低波动
	ChopRatio = 0.8
)

// State 是交易状态机的当前状态，挂起信号与持仓互斥
type State int

const (
	Idle State = iota
	PendingLong
	PendingShort
	OpenLong
	OpenShort
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingLong:
		return "pending_long"
	case PendingShort:
		return "pending_short"
	case OpenLong:
		return "open_long"
	case OpenShort:
		return "open_short"
	default:
		return "unknown"
	}
}

// Pending 表示已检测到信号、等待确认
func (s State) Pending() bool { return s == PendingLong || s == PendingShort }

// Open 表示持有仓位
func (s State) Open() bool { return s == OpenLong || s == OpenShort }

// Settings 是状态机的阈值与开关
type Settings struct {
	LongEnabled       bool
	ShortEnabled      bool
	LongRSIThreshold  float64
	ShortRSIThreshold float64
	RVolThreshold     float64
	SLTPRatio         float64
	ShortRequiresRVol bool
}

// SettingsFrom 从回测配置中提取状态机参数
func SettingsFrom(b models.BacktestConfig) Settings {
	return Settings{
		LongEnabled:       b.LongEnabled,
		ShortEnabled:      b.ShortEnabled,
		LongRSIThreshold:  b.LongRSIThreshold,
		ShortRSIThreshold: b.ShortRSIThreshold,
		RVolThreshold:     b.RVolThreshold,
		SLTPRatio:         b.SLTPRatio,
		ShortRequiresRVol: b.ShortRequiresRVol,
	}
}

// Position 在确认入场时创建，平仓时清除。TakeProfit 入场后不再变化。
type Position struct {
	Side       models.Side
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	EntryTime  time.Time
}

// StepResult 描述单根K线推进后发生的事件
type StepResult struct {
	State  State
	Gated  bool          // 指标未预热完成，本根K线不做任何处理
	Setup  bool          // 本根K线检测到新信号
	Opened bool          // 本根K线确认入场
	Closed *models.Trade // 本根K线平仓的交易
}

// Simulator 是单次回测独占的状态机，不可在多次运行之间共享
type Simulator struct {
	settings Settings
	state    State
	position *Position
	trades   []models.Trade
	stats    models.RunStats
}

// NewSimulator 创建一个处于 Idle 状态的新状态机
func NewSimulator(settings Settings) *Simulator {
	return &Simulator{settings: settings, state: Idle}
}

// Step 处理一根带指标的K线。顺序固定：预热门控 → 低波动过滤 → 信号检测 → 确认入场 → 追踪止损与离场。
func (s *Simulator) Step(row models.IndicatorRow, trend models.Side) StepResult {
	if math.IsNaN(row.AvgBBWidth) {
		return StepResult{State: s.state, Gated: true}
	}

	var res StepResult
	price := row.Close
	lowVolatility := row.ATRShort < ChopRatio*row.ATRLong

	if s.state == Idle && !lowVolatility {
		res.Setup = s.detectSetup(row, trend)
	}

	switch s.state {
	case PendingLong:
		if row.RSI > s.settings.LongRSIThreshold && price > row.BBLower {
			s.open(models.Long, row)
			res.Opened = true
		}
	case PendingShort:
		if row.RSI < s.settings.ShortRSIThreshold && price < row.BBUpper {
			s.open(models.Short, row)
			res.Opened = true
		}
	}

	if s.state.Open() {
		res.Closed = s.manage(row)
	}

	res.State = s.state
	return res
}

func (s *Simulator) detectSetup(row models.IndicatorRow, trend models.Side) bool {
	cfg := s.settings
	price := row.Close
	volumeOK := row.RVol >= cfg.RVolThreshold

	// 价格向下偏离：超卖且跌破下轨
	if cfg.LongEnabled && row.RSI < cfg.LongRSIThreshold && price <= row.BBLower && volumeOK {
		s.state = PendingLong
		return true
	}
	// 价格向上偏离：超买、突破上轨且大周期趋势向下
	if cfg.ShortEnabled && row.RSI > cfg.ShortRSIThreshold && price >= row.BBUpper && trend == models.Short &&
		(!cfg.ShortRequiresRVol || volumeOK) {
		s.state = PendingShort
		return true
	}
	return false
}

func (s *Simulator) open(side models.Side, row models.IndicatorRow) {
	entry := row.Close
	p := &Position{Side: side, EntryPrice: entry, EntryTime: row.Time}
	if side == models.Long {
		p.StopLoss = entry - row.AvgBBWidth
		p.TakeProfit = entry + (entry-p.StopLoss)*s.settings.SLTPRatio
		s.state = OpenLong
	} else {
		p.StopLoss = entry + row.AvgBBWidth
		p.TakeProfit = entry - (p.StopLoss-entry)*s.settings.SLTPRatio
		s.state = OpenShort
	}
	s.position = p
}

// manage 收紧追踪止损并检查离场。布林带宽度非正时本根K线跳过。
func (s *Simulator) manage(row models.IndicatorRow) *models.Trade {
	bbRange := row.BBUpper - row.BBLower
	if !(bbRange > 0) {
		return nil
	}
	price := row.Close
	bbPos := clip((price-row.BBLower)/bbRange, 0, 1)
	p := s.position

	if s.state == OpenLong {
		candidate := price - trailDistance(bbPos, bbRange)
		p.StopLoss = math.Max(p.StopLoss, candidate)
		if price <= p.StopLoss || price >= p.TakeProfit {
			return s.close(row, price-p.EntryPrice)
		}
		return nil
	}

	candidate := price + trailDistance(1-bbPos, bbRange)
	p.StopLoss = math.Min(p.StopLoss, candidate)
	if price >= p.StopLoss || price <= p.TakeProfit {
		return s.close(row, p.EntryPrice-price)
	}
	return nil
}

// trailDistance 随价格在带内的位置按指数收紧，pos=1 时最紧
func trailDistance(pos, bbRange float64) float64 {
	factor := math.Pow(pos, TrailExponent)
	return MaxTrail*bbRange - factor*(MaxTrail-MinTrail)*bbRange
}

func (s *Simulator) close(row models.IndicatorRow, pnl float64) *models.Trade {
	p := s.position
	trade := models.Trade{
		Side:       p.Side,
		EntryTime:  p.EntryTime,
		ExitTime:   row.Time,
		EntryPrice: p.EntryPrice,
		ExitPrice:  row.Close,
		PnL:        pnl,
	}
	s.trades = append(s.trades, trade)

	if p.Side == models.Long {
		s.stats.LongsAttempted++
		if pnl > 0 {
			s.stats.LongsWon++
		}
	} else {
		s.stats.ShortsAttempted++
		if pnl > 0 {
			s.stats.ShortsWon++
		}
	}
	s.stats.TradeCount++
	s.stats.TotalProfit += pnl

	s.position = nil
	s.state = Idle
	return &trade
}

// State 返回当前状态
func (s *Simulator) State() State { return s.state }

// Position 返回当前持仓的副本
func (s *Simulator) Position() (Position, bool) {
	if s.position == nil {
		return Position{}, false
	}
	return *s.position, true
}

// Trades 返回已平仓交易日志的副本
func (s *Simulator) Trades() []models.Trade {
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Stats 返回累计计数器
func (s *Simulator) Stats() models.RunStats { return s.stats }

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
