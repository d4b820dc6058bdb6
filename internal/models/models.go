package models

import (
	"math"
	"time"
)

// Config 结构体定义了回测程序的所有配置参数
type Config struct {
	Backtest   BacktestConfig `mapstructure:"backtest" json:"backtest"`       // 回测默认参数 (HTTP 请求可覆盖)
	Source     SourceConfig   `mapstructure:"source" json:"source"`           // K线数据源配置
	LogConfig  LogConfig      `mapstructure:"log" json:"log"`                 // 日志配置
	ServerAddr string         `mapstructure:"server_addr" json:"server_addr"` // HTTP 监听地址, e.g. ":8000"
}

// BacktestConfig 描述一次回测调用的全部输入
type BacktestConfig struct {
	Instrument       string `mapstructure:"instrument" json:"instrument"`               // 交易品种, e.g. "BTCUSDT"
	EntryGranularity string `mapstructure:"entry_granularity" json:"entry_granularity"` // 入场周期, e.g. "5m" / "M5"
	TrendGranularity string `mapstructure:"trend_granularity" json:"trend_granularity"` // 趋势周期, e.g. "1h" / "H1"
	EntryCandles     int    `mapstructure:"entry_candles" json:"entry_candles"`         // 入场周期加载的K线数量
	TrendCandles     int    `mapstructure:"trend_candles" json:"trend_candles"`         // 趋势周期加载的K线数量
	End              string `mapstructure:"end" json:"end"`                             // 锚点时间 (RFC3339)，为空表示最新
	Direction        string `mapstructure:"direction" json:"direction"`                 // 分页方向: "backward"(to) 或 "forward"(from)

	RSIPeriod     int     `mapstructure:"rsi_period" json:"rsi_period"`
	BBPeriod      int     `mapstructure:"bb_period" json:"bb_period"`
	BBStd         float64 `mapstructure:"bb_std" json:"bb_std"`
	TrendEMASpan  int     `mapstructure:"trend_ema_span" json:"trend_ema_span"`
	RVolThreshold float64 `mapstructure:"rvol_threshold" json:"rvol_threshold"`
	SLTPRatio     float64 `mapstructure:"sltp_ratio" json:"sltp_ratio"` // 止盈距离 = 止损距离 * SLTPRatio

	LongRSIThreshold  float64 `mapstructure:"long_rsi_threshold" json:"long_rsi_threshold"`
	ShortRSIThreshold float64 `mapstructure:"short_rsi_threshold" json:"short_rsi_threshold"`
	LongEnabled       bool    `mapstructure:"long_enabled" json:"long_enabled"`
	ShortEnabled      bool    `mapstructure:"short_enabled" json:"short_enabled"`
	ShortRequiresRVol bool    `mapstructure:"short_requires_rvol" json:"short_requires_rvol"` // 做空信号是否同样要求相对成交量达标
}

// SourceConfig 定义了K线来源相关的配置
type SourceConfig struct {
	Kind            string `mapstructure:"kind" json:"kind"`                             // "binance" 或 "csv"
	BaseURL         string `mapstructure:"base_url" json:"base_url"`                     // 币安 REST 地址，为空使用默认
	CSVDir          string `mapstructure:"csv_dir" json:"csv_dir"`                       // CSV 数据目录, 文件名 <SYMBOL>-<interval>.csv
	MaxBatch        int    `mapstructure:"max_batch" json:"max_batch"`                   // 单次请求最多K线数
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min" json:"rate_limit_per_min"` // 每分钟请求上限
	CachePath       string `mapstructure:"cache_path" json:"cache_path"`                 // badger 缓存目录，为空则不缓存
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}

// Candle 是一根已收盘的K线
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IndicatorRow 是附带派生指标的K线。指标在预热窗口填满之前为 NaN。
type IndicatorRow struct {
	Candle
	RSI        float64
	BBMid      float64
	BBUpper    float64
	BBLower    float64
	BBWidth    float64
	AvgBBWidth float64 // BBWidth 的滚动均值
	TR         float64
	ATRShort   float64
	ATRLong    float64
	AvgVolume  float64
	RVol       float64 // 非有限值已映射为 0
}

// Side 定义了交易方向
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Trade 记录一笔已平仓的交易，写入后不再修改
type Trade struct {
	Side       Side      `json:"side"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
}

// Snapshot 是每根K线推进后供图表使用的状态快照
type Snapshot struct {
	Time        int64    `json:"time"` // Unix 秒
	Open        float64  `json:"open"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	Close       float64  `json:"close"`
	BBUpper     *float64 `json:"bb_upper"` // 预热期间为 null
	BBLower     *float64 `json:"bb_lower"`
	TrailingSL  float64  `json:"trailing_sl"`  // 空仓时为 0
	EntryPrice  float64  `json:"entry_price"`  // 空仓时为 0
	TotalProfit float64  `json:"total_profit"` // 保留两位小数
	TradeCount  int      `json:"trade_count"`  // 截至当前已平仓交易数
}

// RunStats 汇总一次回测的计数器
type RunStats struct {
	LongsAttempted  int     `json:"longs_attempted"`
	LongsWon        int     `json:"longs_won"`
	ShortsAttempted int     `json:"shorts_attempted"`
	ShortsWon       int     `json:"shorts_won"`
	TradeCount      int     `json:"trade_count"`
	TotalProfit     float64 `json:"total_profit"`
	Trend           Side    `json:"trend"`
}

// RunResult 是一次回测调用的唯一输出，每次运行新建，不在运行间共享
type RunResult struct {
	ID         string     `json:"id"`
	Instrument string     `json:"instrument"`
	Snapshots  []Snapshot `json:"chartData"`
	Trades     []Trade    `json:"trades"`
	Stats      RunStats   `json:"stats"`
}

// FloatPtr 将有限值转换为指针，NaN/Inf 返回 nil 以便 JSON 输出 null
func FloatPtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
