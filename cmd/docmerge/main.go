package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/allanpk716/docmerge/internal/cmd"
	"github.com/allanpk716/docmerge/internal/config"
	"github.com/allanpk716/docmerge/internal/processor"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 解析命令行参数
	args, err := cmd.ParseCommandLineArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数解析失败: %v\n", err)
		return 2
	}

	// 处理版本和帮助信息
	if args.ShowVersion {
		fmt.Printf("%s v%s\n", cmd.AppName, cmd.AppVersion)
		return 0
	}

	if args.ShowHelp {
		cmd.ShowUsage(os.Stdout)
		return 0
	}

	// 加载配置文件
	configManager := config.NewConfigManager()
	cfg, err := cmd.LoadConfiguration(configManager, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置文件失败: %v\n", err)
		return 1
	}

	logger := cmd.NewLogger(os.Stderr, cfg.Processing, args)
	slog.SetDefault(logger)
	logger.Info("启动", "app", cmd.AppName, "version", cmd.AppVersion)

	// 验证参数
	if err := cmd.ValidateArgs(args, cfg.Processing.OutputSuffix); err != nil {
		logger.Error("参数验证失败", "error", err)
		return 2
	}

	values := cmd.MergeValues(configManager.GetFieldValues(cfg), args.Sets)
	logger.Debug("配置已加载", "config", args.ConfigFile, "project", cfg.ProjectName, "fields", len(values))

	opts, err := cmd.BuildProcessorOptions(cfg, logger)
	if err != nil {
		logger.Error("创建处理器失败", "error", err)
		return 1
	}
	p, err := processor.NewProcessor(opts)
	if err != nil {
		logger.Error("创建处理器失败", "error", err)
		return 1
	}

	// 创建上下文
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if err := cmd.ExecuteProcessing(ctx, p, configManager, args, values, os.Stdout); err != nil {
		logger.Error("处理失败", "error", err)
		return 1
	}

	logger.Info("处理完成")
	return 0
}
