package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 媒体类型常量
const (
	MediaKindDocument  = "document"
	MediaKindVideo     = "video"
	MediaKindAudio     = "audio"
	MediaKindAnimation = "animation"
	MediaKindVoice     = "voice"
	MediaKindPhoto     = "photo"
)

// ArchivedMedia 媒体消息存档
// Bot API 无法按 ID 读取历史消息，带文件的消息在到达时存档，供表情回应和链接解析使用
type ArchivedMedia struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ChatID       int64              `bson:"chat_id"`                  // 所属聊天 ID
	ChatUsername string             `bson:"chat_username,omitempty"`  // 聊天用户名（小写，不含 @）
	MessageID    int64              `bson:"message_id"`               // Telegram 消息 ID
	ThreadID     int64              `bson:"thread_id,omitempty"`      // 话题 ID
	MediaGroupID string             `bson:"media_group_id,omitempty"` // 相册 ID

	// 文件信息
	Kind         string `bson:"kind"`                // 媒体类型
	FileID       string `bson:"file_id"`             // 文件 ID（下载用）
	FileUniqueID string `bson:"file_unique_id"`      // 文件唯一 ID
	FileName     string `bson:"file_name,omitempty"` // 文件名（照片等无文件名）
	MimeType     string `bson:"mime_type,omitempty"` // MIME 类型
	FileSize     int64  `bson:"file_size"`           // 文件大小

	// 时间信息
	SentAt    time.Time `bson:"sent_at"`    // 发送时间
	CreatedAt time.Time `bson:"created_at"` // 记录创建时间（TTL索引）
	UpdatedAt time.Time `bson:"updated_at"` // 记录更新时间
}

// InGroup 是否属于相册
func (m *ArchivedMedia) InGroup() bool {
	return m.MediaGroupID != ""
}
