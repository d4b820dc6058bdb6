package candles

import (
	"bb-rsi-backtest-go/internal/models"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVHeader 是离线K线文件的表头，open_time/close_time 为毫秒时间戳
var CSVHeader = []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}

// CSVFetcher 从本地 CSV 文件读取K线，文件名格式为 <SYMBOL>-<interval>.csv
type CSVFetcher struct {
	dir      string
	maxBatch int
	now      func() time.Time

	mu     sync.Mutex
	series map[string][]RawCandle
}

// NewCSVFetcher 创建一个读取 dir 目录的数据源
func NewCSVFetcher(dir string, maxBatch int) *CSVFetcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &CSVFetcher{
		dir:      dir,
		maxBatch: maxBatch,
		now:      time.Now,
		series:   make(map[string][]RawCandle),
	}
}

// CSVPath 返回某个品种与周期对应的文件路径
func CSVPath(dir, instrument string, tf Timeframe) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", strings.ToUpper(instrument), tf.Key))
}

func (f *CSVFetcher) Name() string { return "csv" }

func (f *CSVFetcher) MaxBatch() int { return f.maxBatch }

// FetchBatch 按锚点与方向在文件中切出一批K线
func (f *CSVFetcher) FetchBatch(_ context.Context, req BatchRequest) ([]RawCandle, error) {
	rows, err := f.load(req.Instrument, req.Timeframe)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 || len(rows) == 0 {
		return nil, nil
	}

	if req.Direction == Forward {
		start := sort.Search(len(rows), func(i int) bool { return !rows[i].Time.Before(req.Anchor) })
		end := min(start+req.Limit, len(rows))
		return append([]RawCandle(nil), rows[start:end]...), nil
	}

	end := len(rows)
	if !req.Anchor.IsZero() {
		end = sort.Search(len(rows), func(i int) bool { return rows[i].Time.After(req.Anchor) })
	}
	start := max(end-req.Limit, 0)
	return append([]RawCandle(nil), rows[start:end]...), nil
}

func (f *CSVFetcher) load(instrument string, tf Timeframe) ([]RawCandle, error) {
	path := CSVPath(f.dir, instrument, tf)

	f.mu.Lock()
	defer f.mu.Unlock()
	if rows, ok := f.series[path]; ok {
		return rows, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开历史数据文件: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("无法读取CSV记录 %s: %w", path, err)
	}
	if len(records) > 0 && records[0][0] == CSVHeader[0] {
		records = records[1:]
	}

	nowMs := f.now().UnixMilli()
	rows := make([]RawCandle, 0, len(records))
	for line, record := range records {
		c, closeMs, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行: %w", path, line+2, err)
		}
		rows = append(rows, RawCandle{Candle: c, Complete: closeMs == 0 || closeMs < nowMs})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })

	f.series[path] = rows
	return rows, nil
}

func parseRecord(record []string) (models.Candle, int64, error) {
	if len(record) < 6 {
		return models.Candle{}, 0, fmt.Errorf("字段数不足: %d", len(record))
	}
	openMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return models.Candle{}, 0, err
	}
	var vals [5]float64
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(record[i+1], 64); err != nil {
			return models.Candle{}, 0, err
		}
	}
	var closeMs int64
	if len(record) > 6 && record[6] != "" {
		if closeMs, err = strconv.ParseInt(record[6], 10, 64); err != nil {
			return models.Candle{}, 0, err
		}
	}
	return models.Candle{
		Time:   time.UnixMilli(openMs).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, closeMs, nil
}

// WriteCSV 将K线写成 CSVFetcher 可读取的格式
func WriteCSV(w *csv.Writer, candles []models.Candle, tf Timeframe) error {
	if err := w.Write(CSVHeader); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	for _, c := range candles {
		record := []string{
			strconv.FormatInt(c.Time.UnixMilli(), 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
			strconv.FormatInt(c.Time.Add(tf.Duration).UnixMilli()-1, 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("写入CSV记录失败: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
