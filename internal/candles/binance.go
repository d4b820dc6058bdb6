package candles

import (
	"bb-rsi-backtest-go/internal/models"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

// binanceMaxLimit 是币安 klines 接口单次请求的上限
const binanceMaxLimit = 1000

// BinanceFetcher 基于币安现货 REST klines 接口拉取单批K线
type BinanceFetcher struct {
	client   *binance.Client
	limiter  *rate.Limiter
	maxBatch int
	now      func() time.Time
}

// NewBinanceFetcher 创建一个新的币安数据源，公共接口不需要 API Key
func NewBinanceFetcher(cfg models.SourceConfig) *BinanceFetcher {
	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 || maxBatch > binanceMaxLimit {
		maxBatch = binanceMaxLimit
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 600
	}
	return &BinanceFetcher{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1),
		maxBatch: maxBatch,
		now:      time.Now,
	}
}

func (b *BinanceFetcher) Name() string { return "binance" }

func (b *BinanceFetcher) MaxBatch() int { return b.maxBatch }

// FetchBatch 请求一批K线。Backward 以 endTime 为锚点返回其之前最近的 limit 根，
// Forward 以 startTime 为锚点返回其之后的 limit 根。
func (b *BinanceFetcher) FetchBatch(ctx context.Context, req BatchRequest) ([]RawCandle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	svc := b.client.NewKlinesService().
		Symbol(req.Instrument).
		Interval(req.Timeframe.Interval).
		Limit(req.Limit)
	if !req.Anchor.IsZero() {
		if req.Direction == Forward {
			svc = svc.StartTime(req.Anchor.UnixMilli())
		} else {
			svc = svc.EndTime(req.Anchor.UnixMilli())
		}
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下载K线数据失败: %w", err)
	}

	nowMs := b.now().UnixMilli()
	out := make([]RawCandle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(k)
		if err != nil {
			return nil, err
		}
		// 收盘时间尚未到达的K线仍在形成中
		out = append(out, RawCandle{Candle: c, Complete: k.CloseTime < nowMs})
	}
	return out, nil
}

func klineToCandle(k *binance.Kline) (models.Candle, error) {
	var (
		c    models.Candle
		errs [5]error
	)
	c.Time = time.UnixMilli(k.OpenTime).UTC()
	c.Open, errs[0] = strconv.ParseFloat(k.Open, 64)
	c.High, errs[1] = strconv.ParseFloat(k.High, 64)
	c.Low, errs[2] = strconv.ParseFloat(k.Low, 64)
	c.Close, errs[3] = strconv.ParseFloat(k.Close, 64)
	c.Volume, errs[4] = strconv.ParseFloat(k.Volume, 64)
	for _, err := range errs {
		if err != nil {
			return models.Candle{}, fmt.Errorf("无法解析K线 %d: %w", k.OpenTime, err)
		}
	}
	return c, nil
}
