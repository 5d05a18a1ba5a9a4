// =============================================================================
// ChronoFlow 主入口
// =============================================================================
// 从文件读取工作项并执行一次批处理，输出 JSON 报告
//
// 使用方法:
//
//	chronoflow run --items items.yaml                    # 使用默认配置
//	chronoflow run --config config.yaml --items in.json  # 指定配置文件
//	chronoflow run --items in.yaml --metrics-addr :9091  # 暴露 Prometheus 指标
//	chronoflow version                                   # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/chronoflow/batch"
	"github.com/BaSui01/chronoflow/config"
	"github.com/BaSui01/chronoflow/converter"
	"github.com/BaSui01/chronoflow/engine"
	"github.com/BaSui01/chronoflow/internal/server"
	"github.com/BaSui01/chronoflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runBatch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🚀 run 命令
// =============================================================================

func runBatch(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	itemsPath := fs.String("items", "", "Path to work items file (YAML or JSON)")
	outputPath := fs.String("output", "", "Write the JSON report to this file instead of stdout")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address until interrupted")
	timezone := fs.String("timezone", "", "IANA timezone for converted timestamps")
	recommend := fs.Bool("recommendations", false, "Include optimization recommendations in the report")
	progress := fs.Bool("progress", false, "Log progress after each item")
	_ = fs.Parse(args)

	if *itemsPath == "" {
		return fmt.Errorf("--items is required")
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ChronoFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	items, err := loadItems(*itemsPath)
	if err != nil {
		return err
	}

	deps := engine.Deps{
		Converter: converter.NewTimestamp(),
		Logger:    logger,
	}
	if *progress {
		deps.Progress = batch.ProgressFunc(func(p batch.Progress) {
			logger.Info("progress",
				zap.Int("completed", p.Completed),
				zap.Int("total", p.Total),
				zap.Float64("percentage", p.Percentage),
				zap.Duration("eta", p.EstimatedTimeRemaining),
				zap.Int("errors", p.Errors),
			)
		})
	}

	eng, err := engine.New(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var metricsServer *server.Manager
	if addr := firstNonEmpty(*metricsAddr, cfg.Metrics.Addr); addr != "" && eng.Collector() != nil {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = addr
		metricsServer = server.NewManager(eng.Collector().Handler(), srvCfg, logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		defer func() { _ = metricsServer.Shutdown(context.Background()) }()
	}

	opts := eng.DefaultOptions()
	opts.IncludeRecommendations = *recommend
	opts.EnableProgress = opts.EnableProgress || *progress
	if *timezone != "" {
		opts.Params = map[string]any{converter.ParamTimezone: *timezone}
	}

	report, err := eng.ProcessBatch(ctx, items, opts)
	if err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	logger.Info("batch finished",
		zap.String("batch_id", report.BatchID),
		zap.Int("success", report.Stats.SuccessCount),
		zap.Int("failure", report.Stats.FailureCount),
		zap.Int("alerts", len(report.Alerts)),
	)

	if err := writeReport(*outputPath, report); err != nil {
		return err
	}

	if metricsServer != nil && *metricsAddr != "" {
		logger.Info("serving metrics until interrupted", zap.String("addr", metricsServer.Addr()))
		select {
		case <-ctx.Done():
		case err := <-metricsServer.Errors():
			return err
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ChronoFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ChronoFlow - adaptive batch-processing engine

Usage:
  chronoflow <command> [options]

Commands:
  run       Process a batch of work items
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>         Path to configuration file (YAML)
  --items <path>          Work items file (YAML or JSON list)
  --output <path>         Write the JSON report to a file
  --metrics-addr <addr>   Serve /metrics until interrupted
  --timezone <name>       IANA timezone for converted timestamps
  --recommendations       Include optimization recommendations
  --progress              Log progress updates

Examples:
  chronoflow run --items items.yaml
  chronoflow run --config /etc/chronoflow/config.yaml --items batch.json --output report.json
  chronoflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// 报告写 stdout，日志默认走 stderr
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
