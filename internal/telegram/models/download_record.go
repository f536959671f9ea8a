package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DownloadRecord 下载请求终态记录
type DownloadRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	ChatID          int64              `bson:"chat_id"`                    // 来源聊天 ID
	MessageID       int64              `bson:"message_id"`                 // 来源消息 ID
	FileIndex       int                `bson:"file_index"`                 // 消息内文件序号
	Origin          string             `bson:"origin"`                     // reaction / link_post
	FileName        string             `bson:"file_name,omitempty"`        // 文件名
	DestinationPath string             `bson:"destination_path,omitempty"` // 本地路径
	DeclaredSize    int64              `bson:"declared_size"`              // 来源声明大小
	Size            int64              `bson:"size"`                       // 完成时的实际大小
	Status          string             `bson:"status"`                     // completed/failed
	Reason          string             `bson:"reason,omitempty"`           // 失败原因
	Detail          string             `bson:"detail,omitempty"`           // 失败详情
	AttemptID       string             `bson:"attempt_id"`                 // 尝试 ID (UUID)
	StartedAt       time.Time          `bson:"started_at"`                 // 开始传输时间
	FinishedAt      time.Time          `bson:"finished_at"`                // 结束时间
	CreatedAt       time.Time          `bson:"created_at"`                 // 首次记录时间
	UpdatedAt       time.Time          `bson:"updated_at"`                 // 最近更新时间
}

const (
	DownloadStatusCompleted = "completed"
	DownloadStatusFailed    = "failed"
)

// IsCompleted 是否已完成
func (r *DownloadRecord) IsCompleted() bool {
	return r.Status == DownloadStatusCompleted
}
