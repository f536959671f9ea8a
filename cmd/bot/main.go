package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_downloader/internal/app"
	"tg_downloader/internal/config"
	"tg_downloader/internal/logger"
)

func main() {
	// 初始化logger
	logger.Init()
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("应用运行出错: %v", err)
	}
	logger.L().Info("Shutting down...")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Close(closeCtx); err != nil {
		logger.L().Errorf("应用关闭失败: %v", err)
	}
}
