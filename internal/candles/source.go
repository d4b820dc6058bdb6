package candles

import (
	"bb-rsi-backtest-go/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrFetch 表示底层数据源请求失败，调用方应视为本次回测失败
var ErrFetch = errors.New("candle fetch failed")

// DefaultMaxBatch 是数据源未声明上限时的单批数量
const DefaultMaxBatch = 1000

// Direction 决定锚点是区间的终点还是起点
type Direction string

const (
	Backward Direction = "backward" // 锚点为终点，向过去翻页
	Forward  Direction = "forward"  // 锚点为起点，向未来翻页
)

// ParseDirection 解析分页方向，空值视为 Backward
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "backward", "to":
		return Backward, nil
	case "forward", "from":
		return Forward, nil
	default:
		return "", fmt.Errorf("未知的分页方向: %q", s)
	}
}

// RawCandle 是数据源返回的原始K线，Complete=false 表示仍在形成中
type RawCandle struct {
	models.Candle
	Complete bool
}

// BatchRequest 描述一次单批请求
type BatchRequest struct {
	Instrument string
	Timeframe  Timeframe
	Anchor     time.Time // 零值表示最新
	Direction  Direction
	Limit      int
}

// Fetcher 是单批K线拉取的传输层。重试与限流由实现负责。
type Fetcher interface {
	FetchBatch(ctx context.Context, req BatchRequest) ([]RawCandle, error)
	MaxBatch() int
	Name() string
}

// Cache 缓存完整的合并结果
type Cache interface {
	Get(key string) ([]models.Candle, bool, error)
	Put(key string, candles []models.Candle) error
}

// Request 描述一次完整的K线加载
type Request struct {
	Instrument  string
	Granularity string
	Anchor      time.Time
	Count       int
	Direction   Direction
}

// Key 返回请求的缓存键
func (r Request) Key() string {
	dir := r.Direction
	if dir == "" {
		dir = Backward
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s", strings.ToUpper(r.Instrument), strings.ToLower(r.Granularity), r.Anchor.Unix(), r.Count, dir)
}

// Source 通过多次单批请求凑齐指定数量的已收盘K线
type Source struct {
	fetcher Fetcher
	cache   Cache
	logger  *zap.Logger
}

// Option 配置 Source
type Option func(*Source)

// WithCache 为带锚点的请求启用缓存
func WithCache(c Cache) Option {
	return func(s *Source) { s.cache = c }
}

// NewSource 创建一个新的 Source
func NewSource(f Fetcher, logger *zap.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{fetcher: f, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 返回至多 req.Count 根已收盘K线，按时间升序且时间戳唯一。
// 数据源耗尽时返回较短 (可能为空) 的结果，不视为错误。
func (s *Source) Load(ctx context.Context, req Request) ([]models.Candle, error) {
	tf, err := ParseTimeframe(req.Granularity)
	if err != nil {
		return nil, err
	}
	if req.Direction == "" {
		req.Direction = Backward
	}
	if req.Direction == Forward && req.Anchor.IsZero() {
		return nil, errors.New("forward 分页需要起始锚点")
	}
	if req.Count <= 0 {
		return []models.Candle{}, nil
	}

	cacheable := s.cache != nil && !req.Anchor.IsZero()
	if cacheable {
		if cached, ok, err := s.cache.Get(req.Key()); err != nil {
			s.logger.Warn("读取K线缓存失败", zap.String("key", req.Key()), zap.Error(err))
		} else if ok {
			s.logger.Debug("从缓存加载K线", zap.String("key", req.Key()), zap.Int("rows", len(cached)))
			return cached, nil
		}
	}

	maxBatch := s.fetcher.MaxBatch()
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	var collected []models.Candle
	anchor := req.Anchor
	remaining := req.Count
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := s.fetcher.FetchBatch(ctx, BatchRequest{
			Instrument: req.Instrument,
			Timeframe:  tf,
			Anchor:     anchor,
			Direction:  req.Direction,
			Limit:      min(maxBatch, remaining),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s via %s: %w", ErrFetch, req.Instrument, tf.Key, s.fetcher.Name(), err)
		}
		completed := completedOnly(batch)
		if len(completed) == 0 {
			break
		}
		collected = append(collected, completed...)
		remaining -= len(completed)

		earliest, latest := bounds(completed)
		if req.Direction == Backward {
			anchor = earliest.Add(-time.Second)
		} else {
			anchor = latest.Add(time.Second)
		}
		s.logger.Debug("已拉取K线批次",
			zap.String("instrument", req.Instrument),
			zap.String("granularity", tf.Key),
			zap.Int("rows", len(completed)),
			zap.Int("remaining", remaining),
			zap.Time("next_anchor", anchor))
	}

	out := mergeSeries(collected, req.Count, req.Direction)
	if cacheable && len(out) > 0 {
		if err := s.cache.Put(req.Key(), out); err != nil {
			s.logger.Warn("写入K线缓存失败", zap.String("key", req.Key()), zap.Error(err))
		}
	}
	return out, nil
}

// LoadPair 并发加载入场周期与趋势周期两组K线
func (s *Source) LoadPair(ctx context.Context, entry, trend Request) ([]models.Candle, []models.Candle, error) {
	var entryCandles, trendCandles []models.Candle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entryCandles, err = s.Load(gctx, entry)
		return err
	})
	g.Go(func() error {
		var err error
		trendCandles, err = s.Load(gctx, trend)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entryCandles, trendCandles, nil
}

// completedOnly 在入库前丢弃尚未收盘的K线
func completedOnly(batch []RawCandle) []models.Candle {
	out := make([]models.Candle, 0, len(batch))
	for _, c := range batch {
		if !c.Complete {
			continue
		}
		out = append(out, c.Candle)
	}
	return out
}

func bounds(cs []models.Candle) (earliest, latest time.Time) {
	earliest, latest = cs[0].Time, cs[0].Time
	for _, c := range cs[1:] {
		if c.Time.Before(earliest) {
			earliest = c.Time
		}
		if c.Time.After(latest) {
			latest = c.Time
		}
	}
	return earliest, latest
}

// mergeSeries 按时间去重、升序排序，并裁剪到 count 根。
// Backward 保留最新的 count 根，Forward 保留最早的 count 根。
func mergeSeries(rows []models.Candle, count int, dir Direction) []models.Candle {
	if len(rows) == 0 {
		return []models.Candle{}
	}
	sorted := make([]models.Candle, len(rows))
	copy(sorted, rows)
	// 稳定排序保证相同时间戳保留最先拉取到的那一根
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := sorted[:0]
	for i, c := range sorted {
		if i > 0 && c.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, c)
	}

	if len(out) > count {
		if dir == Forward {
			out = out[:count]
		} else {
			out = out[len(out)-count:]
		}
	}
	return out
}
