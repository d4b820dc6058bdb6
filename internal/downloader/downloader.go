package downloader

import (
	"bb-rsi-backtest-go/internal/candles"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// KlineDownloader 通过 candles.Source 拉取K线并保存为离线 CSV 文件
type KlineDownloader struct {
	source *candles.Source
	logger *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(source *candles.Source, logger *zap.Logger) *KlineDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{source: source, logger: logger}
}

// DownloadKlines 下载请求描述的K线并写入 dir 下的 CSV 文件，返回文件路径。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, req candles.Request, dir string) (string, error) {
	tf, err := candles.ParseTimeframe(req.Granularity)
	if err != nil {
		return "", err
	}
	filePath := candles.CSVPath(dir, req.Instrument, tf)

	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("path", filePath))
		return filePath, nil
	}

	rows, err := d.source.Load(ctx, req)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("%s %s 没有可用的K线", req.Instrument, tf.Key)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("无法创建目录 %s: %w", filepath.Dir(filePath), err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("无法创建文件 %s: %w", filePath, err)
	}
	defer file.Close()

	if err := candles.WriteCSV(csv.NewWriter(file), rows, tf); err != nil {
		_ = os.Remove(filePath)
		return "", err
	}

	d.logger.Info("成功下载K线数据",
		zap.String("path", filePath),
		zap.Int("rows", len(rows)),
		zap.Time("from", rows[0].Time),
		zap.Time("to", rows[len(rows)-1].Time))
	return filePath, nil
}
