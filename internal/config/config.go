package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	TelegramToken        string  // Telegram Bot API Token
	TelegramAPIURL       string  // Bot API 服务地址（自建服务可下载大文件），为空使用官方地址
	BotOwnerIDs          []int64 // Bot管理员ID列表
	MongoURI             string  // MongoDB连接URI
	MongoDBName          string  // MongoDB数据库名称
	ArchiveRetentionDays int     // 媒体消息存档保留天数（过期自动删除）
	NotifyChatID         int64   // 通知目标聊天，0 表示回复到来源聊天
	MetricsAddr          string  // /metrics 与 /healthz 监听地址，为空不启动
	Download             DownloadConfig
	Link                 LinkConfig
	Organizer            OrganizerConfig
}

// DownloadConfig 下载引擎配置
type DownloadConfig struct {
	Path              string
	MonitoredChats    []string // 数字 ID 或 @username，为空表示全部
	ReactionEmoji     string
	AllowedReactorIDs []int64 // 为空表示任何人
	Extensions        []string
	MaxFileSizeMB     int64 // 0 表示不限制
	MaxConcurrent     int
	IntakeBuffer      int
}

// MaxFileSizeBytes 大小上限（字节）
func (c DownloadConfig) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// LinkConfig 链接下载配置
type LinkConfig struct {
	Enabled bool
	ChatID  int64
}

// OrganizerConfig 外部整理服务配置
type OrganizerConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Command string
	Timeout time.Duration
}

const (
	defaultMongoDBName   = "tg_downloader"
	defaultDownloadPath  = "./downloads"
	defaultReactionEmoji = "❤"
	defaultMaxConcurrent = 3
	maxConcurrentLimit   = 32
	defaultIntakeBuffer  = 256
	defaultRetentionDays = 30
	defaultMetricsAddr   = ":9090"
	defaultOrganizerCmd  = "DownloadedEpisodesScan"
	defaultScanTimeout   = 10 * time.Second
)

// Load 从环境变量加载配置（先叠加 .env 文件）
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = defaultMongoDBName
	}

	cfg := &Config{
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TelegramAPIURL: strings.TrimRight(strings.TrimSpace(os.Getenv("TELEGRAM_API_URL")), "/"),
		MongoURI:       strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDBName:    mongoDBName,
		MetricsAddr:    defaultMetricsAddr,
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}

	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = strings.TrimSpace(addr)
	}

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseIDList(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	// 解析ARCHIVE_RETENTION_DAYS（默认30天）
	days, err := intEnv("ARCHIVE_RETENTION_DAYS", defaultRetentionDays)
	if err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("ARCHIVE_RETENTION_DAYS must be >= 1, got %d", days)
	}
	cfg.ArchiveRetentionDays = days

	if cfg.NotifyChatID, err = int64Env("NOTIFY_CHAT_ID", 0); err != nil {
		return nil, err
	}

	if cfg.Download, err = loadDownloadConfig(); err != nil {
		return nil, err
	}
	if cfg.Link, err = loadLinkConfig(); err != nil {
		return nil, err
	}
	if cfg.Organizer, err = loadOrganizerConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDownloadConfig() (DownloadConfig, error) {
	cfg := DownloadConfig{
		Path:           strings.TrimSpace(os.Getenv("DOWNLOAD_PATH")),
		MonitoredChats: splitList(os.Getenv("MONITORED_CHATS")),
		ReactionEmoji:  strings.TrimSpace(os.Getenv("REACTION_EMOJI")),
		Extensions:     splitList(os.Getenv("FILE_EXTENSIONS")),
	}
	if cfg.Path == "" {
		cfg.Path = defaultDownloadPath
	}
	if cfg.ReactionEmoji == "" {
		cfg.ReactionEmoji = defaultReactionEmoji
	}

	if reactors := os.Getenv("ALLOWED_REACTOR_IDS"); reactors != "" {
		ids, err := parseIDList(reactors)
		if err != nil {
			return DownloadConfig{}, fmt.Errorf("failed to parse ALLOWED_REACTOR_IDS: %w", err)
		}
		cfg.AllowedReactorIDs = ids
	}

	var err error
	if cfg.MaxFileSizeMB, err = int64Env("MAX_FILE_SIZE_MB", 0); err != nil {
		return DownloadConfig{}, err
	}
	if cfg.MaxFileSizeMB < 0 {
		return DownloadConfig{}, fmt.Errorf("MAX_FILE_SIZE_MB must be >= 0, got %d", cfg.MaxFileSizeMB)
	}

	if cfg.MaxConcurrent, err = intEnv("MAX_CONCURRENT_DOWNLOADS", defaultMaxConcurrent); err != nil {
		return DownloadConfig{}, err
	}
	if cfg.MaxConcurrent < 1 || cfg.MaxConcurrent > maxConcurrentLimit {
		return DownloadConfig{}, fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be between 1 and %d, got %d", maxConcurrentLimit, cfg.MaxConcurrent)
	}

	if cfg.IntakeBuffer, err = intEnv("INTAKE_BUFFER", defaultIntakeBuffer); err != nil {
		return DownloadConfig{}, err
	}
	if cfg.IntakeBuffer < 1 {
		return DownloadConfig{}, fmt.Errorf("INTAKE_BUFFER must be >= 1, got %d", cfg.IntakeBuffer)
	}

	return cfg, nil
}

func loadLinkConfig() (LinkConfig, error) {
	var cfg LinkConfig
	var err error

	if cfg.Enabled, err = boolEnv("LINK_DOWNLOAD_ENABLED", false); err != nil {
		return LinkConfig{}, err
	}
	if cfg.ChatID, err = int64Env("LINK_CHAT_ID", 0); err != nil {
		return LinkConfig{}, err
	}
	if cfg.Enabled && cfg.ChatID == 0 {
		return LinkConfig{}, fmt.Errorf("LINK_CHAT_ID is required when LINK_DOWNLOAD_ENABLED is true")
	}

	return cfg, nil
}

func loadOrganizerConfig() (OrganizerConfig, error) {
	cfg := OrganizerConfig{
		BaseURL: strings.TrimSpace(os.Getenv("ORGANIZER_URL")),
		APIKey:  strings.TrimSpace(os.Getenv("ORGANIZER_API_KEY")),
		Command: strings.TrimSpace(os.Getenv("ORGANIZER_COMMAND")),
	}
	if cfg.Command == "" {
		cfg.Command = defaultOrganizerCmd
	}

	var err error
	if cfg.Enabled, err = boolEnv("ORGANIZER_ENABLED", false); err != nil {
		return OrganizerConfig{}, err
	}

	if timeoutStr := strings.TrimSpace(os.Getenv("ORGANIZER_TIMEOUT_SECONDS")); timeoutStr != "" {
		seconds, err := strconv.Atoi(timeoutStr)
		if err != nil || seconds <= 0 {
			return OrganizerConfig{}, fmt.Errorf("invalid ORGANIZER_TIMEOUT_SECONDS: %s", timeoutStr)
		}
		cfg.Timeout = time.Duration(seconds) * time.Second
	} else {
		cfg.Timeout = defaultScanTimeout
	}

	if cfg.Enabled && (cfg.BaseURL == "" || cfg.APIKey == "") {
		return OrganizerConfig{}, fmt.Errorf("ORGANIZER_URL and ORGANIZER_API_KEY are required when ORGANIZER_ENABLED is true")
	}

	return cfg, nil
}

// parseIDList 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func splitList(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func int64Env(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}
