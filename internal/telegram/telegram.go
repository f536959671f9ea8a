package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tg_downloader/internal/config"
	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/telegram/repository"
	"tg_downloader/internal/telegram/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// 需要接收的更新类型；message_reaction 需要显式订阅
var allowedUpdates = bot.AllowedUpdates{"message", "channel_post", "message_reaction"}

// Config Telegram Bot 配置
type Config struct {
	Token            string        // Bot Token
	APIURL           string        // Bot API 服务地址，空为官方地址
	OwnerIDs         []int64       // Owner 用户 IDs
	ReactionEmoji    string        // 触发下载的表情
	NotifyChatID     int64         // 通知目标，0 表示回复到来源聊天
	LinkEnabled      bool          // 是否处理链接频道
	LinkChatID       int64         // 链接频道 ID
	ArchiveRetention time.Duration // 媒体存档保留时长
	Debug            bool          // 是否开启调试模式
}

// DownloadEngine Bot 使用的下载引擎能力
type DownloadEngine interface {
	SubmitReaction(ctx context.Context, ev downloader.ReactionEvent) error
	SubmitLinkPost(ctx context.Context, ev downloader.LinkPostEvent) error
	MonitorsChat(chatID int64, username string) bool
	Stats() downloader.Stats
}

// botAPI Bot API 调用，便于测试替换
type botAPI interface {
	GetFile(ctx context.Context, params *bot.GetFileParams) (*botModels.File, error)
	FileDownloadLink(f *botModels.File) string
	GetChat(ctx context.Context, params *bot.GetChatParams) (*botModels.ChatFullInfo, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// Bot Telegram Bot 服务
type Bot struct {
	bot           *bot.Bot
	api           botAPI
	db            *mongo.Database
	cfg           Config
	ownerIDs      map[int64]struct{}
	mediaRepo     repository.MediaRepository
	recordRepo    repository.DownloadRecordRepository
	mediaService  service.MediaService
	recordService service.DownloadRecordService
	fetcher       *MessageFetcher
	source        *ContentSource
	notifier      *Notifier
	limiter       *RateLimiter
	engine        DownloadEngine
	workerPool    *WorkerPool
	startTime     time.Time
}

// New 创建 Telegram Bot 实例
func New(cfg Config, db *mongo.Database) (*Bot, error) {
	// 验证配置
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	// 创建 repositories
	mediaRepo := repository.NewMongoMediaRepository(db)
	recordRepo := repository.NewDownloadRecordRepository(db)

	telegramBot := &Bot{
		db:            db,
		cfg:           cfg,
		ownerIDs:      toIDSet(cfg.OwnerIDs),
		mediaRepo:     mediaRepo,
		recordRepo:    recordRepo,
		mediaService:  service.NewMediaService(mediaRepo),
		recordService: service.NewDownloadRecordService(recordRepo),
		workerPool:    NewWorkerPool(4, 100),
		limiter:       NewRateLimiter(notifyRatePerSecond),
		startTime:     time.Now(),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(telegramBot.handleUpdate),
		bot.WithAllowedUpdates(allowedUpdates),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	telegramBot.bot = b
	telegramBot.api = b
	telegramBot.fetcher = NewMessageFetcher(b, telegramBot.mediaService)
	telegramBot.source = NewContentSource(b, http.DefaultClient, cfg.APIURL != "")
	telegramBot.notifier = NewNotifier(b, cfg.NotifyChatID, telegramBot.limiter)

	// 注册 handlers
	telegramBot.registerHandlers()

	// 初始化数据库索引
	if err := telegramBot.ensureIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, db *mongo.Database) (*Bot, error) {
	telegramCfg := Config{
		Token:            cfg.TelegramToken,
		APIURL:           cfg.TelegramAPIURL,
		OwnerIDs:         cfg.BotOwnerIDs,
		ReactionEmoji:    cfg.Download.ReactionEmoji,
		NotifyChatID:     cfg.NotifyChatID,
		LinkEnabled:      cfg.Link.Enabled,
		LinkChatID:       cfg.Link.ChatID,
		ArchiveRetention: time.Duration(cfg.ArchiveRetentionDays) * 24 * time.Hour,
		Debug:            false, // 可根据需要从环境变量读取
	}
	return New(telegramCfg, db)
}

// AttachEngine 绑定下载引擎；未绑定时只存档媒体
func (b *Bot) AttachEngine(engine DownloadEngine) {
	b.engine = engine
}

// Fetcher 引擎使用的取消息能力
func (b *Bot) Fetcher() *MessageFetcher { return b.fetcher }

// Source 引擎使用的文件内容流
func (b *Bot) Source() *ContentSource { return b.source }

// Notifier 引擎使用的通知发送
func (b *Bot) Notifier() *Notifier { return b.notifier }

// RecordService 下载记录服务
func (b *Bot) RecordService() service.DownloadRecordService { return b.recordService }

// Start 启动 Bot（阻塞式，应在 goroutine 中运行）
func (b *Bot) Start(ctx context.Context) error {
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
	return nil
}

// Stop 停止 Bot
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")
	// bot.Stop() 通过 context 取消实现，这里只等待命令处理完成
	if b.workerPool != nil {
		b.workerPool.Shutdown()
	}
	b.limiter.Close()
	return nil
}

// ensureIndexes 确保所有数据库索引存在
func (b *Bot) ensureIndexes(ctx context.Context) error {
	if err := b.mediaRepo.EnsureIndexes(ctx, b.cfg.ArchiveRetention); err != nil {
		return fmt.Errorf("failed to ensure media indexes: %w", err)
	}
	logger.L().Debug("Media archive indexes ensured")

	if err := b.recordRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure download record indexes: %w", err)
	}
	logger.L().Debug("Download record indexes ensured")

	return nil
}

func toIDSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
