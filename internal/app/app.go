package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"tg_downloader/internal/config"
	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/mongo"
	"tg_downloader/internal/organizer"
	"tg_downloader/internal/server"
	"tg_downloader/internal/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const restoreTimeout = 30 * time.Second

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB       *mongo.Client
	TelegramBot   *telegram.Bot
	Engine        *downloader.Engine
	MetricsServer *server.Server // METRICS_ADDR 为空时为 nil
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会返回错误
func New(cfg *config.Config) (*App, error) {
	app := &App{}

	// 初始化 MongoDB
	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	// 初始化 Telegram Bot
	app.TelegramBot, err = telegram.InitFromConfig(cfg, mongoClient.Database())
	if err != nil {
		app.Close(context.Background()) // 清理已初始化的服务
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}

	if err := os.MkdirAll(cfg.Download.Path, 0755); err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("create download directory failed: %w", err)
	}

	var scanner downloader.Organizer
	if cfg.Organizer.Enabled {
		client, err := organizer.NewClient(cfg.Organizer)
		if err != nil {
			app.Close(context.Background())
			return nil, fmt.Errorf("init organizer client failed: %w", err)
		}
		scanner = client
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app.Engine, err = downloader.New(engineConfig(cfg), downloader.Deps{
		Fetcher:   app.TelegramBot.Fetcher(),
		Source:    app.TelegramBot.Source(),
		Notifier:  app.TelegramBot.Notifier(),
		Organizer: scanner,
		Store:     app.TelegramBot.RecordService(),
		Metrics:   downloader.NewMetrics(registry),
	})
	if err != nil {
		app.Close(context.Background())
		return nil, fmt.Errorf("init download engine failed: %w", err)
	}
	app.TelegramBot.AttachEngine(app.Engine)

	// 恢复已完成的请求，重启后仍然去重
	restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if outcomes, err := app.TelegramBot.RecordService().LoadCompleted(restoreCtx); err != nil {
		logger.L().Warnf("Failed to restore completed downloads: %v", err)
	} else {
		app.Engine.Restore(outcomes)
	}

	if cfg.MetricsAddr != "" {
		app.MetricsServer = server.New(cfg.MetricsAddr, registry, mongoClient)
	}

	logBanner(cfg)
	return app, nil
}

// engineConfig 将应用配置映射为引擎配置
func engineConfig(cfg *config.Config) downloader.Config {
	var linkChat int64
	if cfg.Link.Enabled {
		linkChat = cfg.Link.ChatID
	}
	return downloader.Config{
		Workers:      cfg.Download.MaxConcurrent,
		IntakeBuffer: cfg.Download.IntakeBuffer,
		Intake: downloader.IntakeConfig{
			ReactionToken: cfg.Download.ReactionEmoji,
			ReactorIDs:    cfg.Download.AllowedReactorIDs,
			LinkChatID:    linkChat,
		},
		Filter: downloader.FilterConfig{
			MonitoredChats: cfg.Download.MonitoredChats,
			Extensions:     cfg.Download.Extensions,
			MaxFileSize:    cfg.Download.MaxFileSizeBytes(),
			DownloadDir:    cfg.Download.Path,
		},
		PostProcess: downloader.PostProcessorConfig{
			OrganizerTimeout: cfg.Organizer.Timeout,
		},
	}
}

// Run 运行所有服务，ctx 取消或任一服务出错时返回
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Engine.Run(gctx); err != nil {
			return fmt.Errorf("download engine stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.TelegramBot.Start(gctx)
	})
	if a.MetricsServer != nil {
		g.Go(func() error {
			return a.MetricsServer.Run(gctx)
		})
	}

	return g.Wait()
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	if a.TelegramBot != nil {
		if err := a.TelegramBot.Stop(ctx); err != nil {
			logger.L().Warnf("Stop Telegram bot failed: %v", err)
		}
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}

func logBanner(cfg *config.Config) {
	chats := "ALL"
	if len(cfg.Download.MonitoredChats) > 0 {
		chats = strings.Join(cfg.Download.MonitoredChats, ", ")
	}
	extensions := "ALL"
	if len(cfg.Download.Extensions) > 0 {
		extensions = strings.Join(cfg.Download.Extensions, ", ")
	}
	maxSize := "unlimited"
	if limit := cfg.Download.MaxFileSizeBytes(); limit > 0 {
		maxSize = downloader.FormatBytes(limit)
	}

	logger.L().Info("Telegram downloader started")
	logger.L().Infof("  Download path:   %s", cfg.Download.Path)
	logger.L().Infof("  Trigger:         %s", cfg.Download.ReactionEmoji)
	logger.L().Infof("  Monitored chats: %s", chats)
	logger.L().Infof("  Extensions:      %s", extensions)
	logger.L().Infof("  Max file size:   %s", maxSize)
	logger.L().Infof("  Workers:         %d", cfg.Download.MaxConcurrent)
	if cfg.Link.Enabled {
		logger.L().Infof("  Link chat:       %d", cfg.Link.ChatID)
	}
	if cfg.Organizer.Enabled {
		logger.L().Infof("  Organizer:       %s", cfg.Organizer.BaseURL)
	}
}
