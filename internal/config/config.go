package config

import (
	"bb-rsi-backtest-go/internal/candles"
	"bb-rsi-backtest-go/internal/models"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid 表示配置校验失败
var ErrInvalid = errors.New("invalid config")

// EnvPrefix 是环境变量覆盖的前缀, e.g. BACKTEST_BACKTEST_INSTRUMENT
const EnvPrefix = "BACKTEST"

// Default 返回与原始策略常量一致的默认配置
func Default() models.Config {
	return models.Config{
		Backtest: models.BacktestConfig{
			Instrument:        "BTCUSDT",
			EntryGranularity:  "5m",
			TrendGranularity:  "1h",
			EntryCandles:      5000,
			TrendCandles:      5000,
			Direction:         string(candles.Backward),
			RSIPeriod:         14,
			BBPeriod:          20,
			BBStd:             2,
			TrendEMASpan:      200,
			RVolThreshold:     1.5,
			SLTPRatio:         3,
			LongRSIThreshold:  40,
			ShortRSIThreshold: 73,
			LongEnabled:       true,
			ShortEnabled:      false,
		},
		Source: models.SourceConfig{
			Kind:            "binance",
			MaxBatch:        1000,
			RateLimitPerMin: 600,
		},
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
		ServerAddr: ":8000",
	}
}

// LoadConfig 从指定路径加载JSON配置文件，叠加环境变量后解析到Config结构体中。
// path 为空时只使用默认值与环境变量。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := Validate(cfg.Backtest); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 将默认配置逐项注册到 viper，使环境变量可以覆盖任意字段
func setDefaults(v *viper.Viper, d models.Config) {
	b := d.Backtest
	v.SetDefault("backtest.instrument", b.Instrument)
	v.SetDefault("backtest.entry_granularity", b.EntryGranularity)
	v.SetDefault("backtest.trend_granularity", b.TrendGranularity)
	v.SetDefault("backtest.entry_candles", b.EntryCandles)
	v.SetDefault("backtest.trend_candles", b.TrendCandles)
	v.SetDefault("backtest.end", b.End)
	v.SetDefault("backtest.direction", b.Direction)
	v.SetDefault("backtest.rsi_period", b.RSIPeriod)
	v.SetDefault("backtest.bb_period", b.BBPeriod)
	v.SetDefault("backtest.bb_std", b.BBStd)
	v.SetDefault("backtest.trend_ema_span", b.TrendEMASpan)
	v.SetDefault("backtest.rvol_threshold", b.RVolThreshold)
	v.SetDefault("backtest.sltp_ratio", b.SLTPRatio)
	v.SetDefault("backtest.long_rsi_threshold", b.LongRSIThreshold)
	v.SetDefault("backtest.short_rsi_threshold", b.ShortRSIThreshold)
	v.SetDefault("backtest.long_enabled", b.LongEnabled)
	v.SetDefault("backtest.short_enabled", b.ShortEnabled)
	v.SetDefault("backtest.short_requires_rvol", b.ShortRequiresRVol)

	s := d.Source
	v.SetDefault("source.kind", s.Kind)
	v.SetDefault("source.base_url", s.BaseURL)
	v.SetDefault("source.csv_dir", s.CSVDir)
	v.SetDefault("source.max_batch", s.MaxBatch)
	v.SetDefault("source.rate_limit_per_min", s.RateLimitPerMin)
	v.SetDefault("source.cache_path", s.CachePath)

	l := d.LogConfig
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.output", l.Output)
	v.SetDefault("log.file", l.File)
	v.SetDefault("log.max_size", l.MaxSize)
	v.SetDefault("log.max_backups", l.MaxBackups)
	v.SetDefault("log.max_age", l.MaxAge)
	v.SetDefault("log.compress", l.Compress)

	v.SetDefault("server_addr", d.ServerAddr)
}

// Validate 检查回测参数是否可用
func Validate(b models.BacktestConfig) error {
	var problems []string
	if strings.TrimSpace(b.Instrument) == "" {
		problems = append(problems, "instrument 不能为空")
	}
	if _, err := candles.ParseTimeframe(b.EntryGranularity); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := candles.ParseTimeframe(b.TrendGranularity); err != nil {
		problems = append(problems, err.Error())
	}
	if b.EntryCandles <= 0 || b.TrendCandles <= 0 {
		problems = append(problems, "candle 数量必须为正数")
	}
	if b.End != "" {
		if _, err := time.Parse(time.RFC3339, b.End); err != nil {
			problems = append(problems, fmt.Sprintf("end 时间格式错误: %v", err))
		}
	}
	if _, err := candles.ParseDirection(b.Direction); err != nil {
		problems = append(problems, err.Error())
	}
	if b.RSIPeriod <= 0 || b.BBPeriod < 2 || b.TrendEMASpan <= 0 {
		problems = append(problems, "rsi_period/trend_ema_span 必须为正数, bb_period 至少为 2")
	}
	if b.BBStd <= 0 || b.SLTPRatio <= 0 {
		problems = append(problems, "bb_std/sltp_ratio 必须为正数")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// AnchorTime 解析 End 字段，为空返回零值 (表示最新)
func AnchorTime(b models.BacktestConfig) time.Time {
	if b.End == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, b.End)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
