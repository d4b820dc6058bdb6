package main

import (
	"bb-rsi-backtest-go/internal/api"
	"bb-rsi-backtest-go/internal/backtest"
	"bb-rsi-backtest-go/internal/candles"
	"bb-rsi-backtest-go/internal/config"
	"bb-rsi-backtest-go/internal/downloader"
	"bb-rsi-backtest-go/internal/logger"
	"bb-rsi-backtest-go/internal/models"
	"bb-rsi-backtest-go/internal/persistence"
	"bb-rsi-backtest-go/internal/reporter"
	"bb-rsi-backtest-go/internal/results"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "", "path to the config file (JSON)")
	mode := flag.String("mode", "run", "running mode: run, serve or download")
	dataDir := flag.String("data", "data", "output directory for download mode")
	flag.Parse()

	// 先用默认配置初始化日志，加载配置时就能输出
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(cfg.Source.CachePath)
	defer func() {
		if err := store.Close(); err != nil {
			logger.S().Warnf("关闭本地存储失败: %v", err)
		}
	}()
	source := newSource(cfg.Source, store)

	switch *mode {
	case "run":
		runOnce(ctx, cfg, source)
	case "serve":
		serve(ctx, cfg, source)
	case "download":
		download(ctx, cfg, source, *dataDir)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'run'、'serve' 或 'download'。", *mode)
	}
}

// openStore 打开 badger 存储。未配置目录时使用内存模式，K线不做缓存。
func openStore(path string) *persistence.BadgerStore {
	var (
		store *persistence.BadgerStore
		err   error
	)
	if path != "" {
		store, err = persistence.NewBadgerStore(path, 24*time.Hour)
	} else {
		store, err = persistence.NewInMemoryStore()
	}
	if err != nil {
		logger.S().Fatalf("无法打开本地存储 %s: %v", path, err)
	}
	return store
}

// newSource 根据配置选择数据源，并在配置了缓存目录时挂上 badger 缓存
func newSource(sc models.SourceConfig, store *persistence.BadgerStore) *candles.Source {
	var fetcher candles.Fetcher
	switch sc.Kind {
	case "csv":
		if sc.CSVDir == "" {
			logger.S().Fatal("csv 数据源需要设置 source.csv_dir")
		}
		fetcher = candles.NewCSVFetcher(sc.CSVDir, sc.MaxBatch)
	case "binance", "":
		fetcher = candles.NewBinanceFetcher(sc)
	default:
		logger.S().Fatalf("未知的数据源类型: %s", sc.Kind)
	}

	var opts []candles.Option
	if sc.CachePath != "" {
		opts = append(opts, candles.WithCache(store))
	}
	logger.S().Infof("使用 %s 数据源", fetcher.Name())
	return candles.NewSource(fetcher, logger.L().Named("candles"), opts...)
}

// runOnce 执行一次回测并在终端打印报告
func runOnce(ctx context.Context, cfg *models.Config, source *candles.Source) {
	logger.S().Info("--- 启动回测模式 ---")
	runner := backtest.NewRunner(source, logger.L().Named("backtest"))
	res, err := runner.Run(ctx, cfg.Backtest)
	if err != nil {
		logger.S().Fatalf("回测失败: %v", err)
	}
	reporter.Render(os.Stdout, res, reporter.CalculateMetrics(res))
}

// serve 启动 HTTP 接口，直到收到中断信号。
// 回测结果只保存在进程内存中，服务重启后不再可查。
func serve(ctx context.Context, cfg *models.Config, source *candles.Source) {
	logger.S().Info("--- 启动 HTTP 服务模式 ---")
	runs := openStore("")
	defer runs.Close()
	manager := results.NewManager(runs, logger.L().Named("results"))
	manager.Start()
	defer manager.Stop()

	runner := backtest.NewRunner(source, logger.L().Named("backtest"))
	server := api.NewServer(cfg.ServerAddr, runner, cfg.Backtest, logger.L().Named("api"), api.WithResults(manager))
	if err := server.Run(ctx); err != nil {
		logger.S().Fatalf("HTTP 服务异常退出: %v", err)
	}
	logger.S().Info("HTTP 服务已停止。")
}

// download 把入场周期与趋势周期的K线保存为 CSV，供 csv 数据源离线回测
func download(ctx context.Context, cfg *models.Config, source *candles.Source, dir string) {
	b := cfg.Backtest
	dirn, _ := candles.ParseDirection(b.Direction)
	anchor := config.AnchorTime(b)
	d := downloader.NewKlineDownloader(source, logger.L().Named("downloader"))

	for _, req := range []candles.Request{
		{Instrument: b.Instrument, Granularity: b.EntryGranularity, Anchor: anchor, Count: b.EntryCandles, Direction: dirn},
		{Instrument: b.Instrument, Granularity: b.TrendGranularity, Anchor: anchor, Count: b.TrendCandles, Direction: dirn},
	} {
		path, err := d.DownloadKlines(ctx, req, dir)
		if err != nil {
			logger.S().Fatalf("下载数据失败: %v", err)
		}
		logger.S().Infow("数据已就绪", zap.String("path", path))
	}
}
