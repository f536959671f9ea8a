package service

import (
	"context"
	"time"

	"tg_downloader/internal/downloader"
)

// MediaService 媒体存档业务接口
type MediaService interface {
	// Archive 存档带文件的消息
	Archive(ctx context.Context, info *MediaMessageInfo) error

	// FetchMessage 从存档中取回消息；相册返回全部成员
	FetchMessage(ctx context.Context, chatID int64, messageID int) (*downloader.SourceMessage, error)

	// LookupChatID 根据存档中的聊天用户名查找聊天 ID
	LookupChatID(ctx context.Context, username string) (int64, error)
}

// DownloadRecordService 下载结果持久化接口
type DownloadRecordService interface {
	// SaveOutcome 记录请求终态
	SaveOutcome(ctx context.Context, req *downloader.Request) error

	// LoadCompleted 读取已完成的请求，用于启动时恢复去重表
	LoadCompleted(ctx context.Context) ([]downloader.CompletedOutcome, error)

	// CountByStatus 各状态的历史记录数
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// MediaMessageInfo 媒体消息 DTO
type MediaMessageInfo struct {
	ChatID       int64
	ChatUsername string
	MessageID    int
	ThreadID     int
	MediaGroupID string
	Kind         string
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
	SentAt       time.Time
}
