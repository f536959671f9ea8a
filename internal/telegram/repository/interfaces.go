package repository

import (
	"context"
	"errors"
	"time"

	"tg_downloader/internal/telegram/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// MediaRepository 媒体消息存档访问接口
type MediaRepository interface {
	// Save 存档媒体消息（按 chat_id + message_id 去重）
	Save(ctx context.Context, media *models.ArchivedMedia) error

	// GetByMessage 根据聊天 ID 和消息 ID 获取存档
	GetByMessage(ctx context.Context, chatID, messageID int64) (*models.ArchivedMedia, error)

	// ListByMediaGroup 列出相册的全部成员，按消息 ID 升序
	ListByMediaGroup(ctx context.Context, chatID int64, mediaGroupID string) ([]*models.ArchivedMedia, error)

	// FindChatIDByUsername 根据存档中的聊天用户名查找聊天 ID
	FindChatIDByUsername(ctx context.Context, username string) (int64, error)

	// EnsureIndexes 确保索引存在，retention 为存档保留时长
	EnsureIndexes(ctx context.Context, retention time.Duration) error
}

// DownloadRecordRepository 下载记录访问接口
type DownloadRecordRepository interface {
	// Upsert 写入或更新请求的终态
	Upsert(ctx context.Context, record *models.DownloadRecord) error

	// ListCompleted 列出所有已完成的记录
	ListCompleted(ctx context.Context) ([]*models.DownloadRecord, error)

	// CountByStatus 按状态统计记录数
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
