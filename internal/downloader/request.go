package downloader

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Origin 下载请求的触发来源
type Origin string

const (
	OriginReaction Origin = "reaction"  // 消息上的表情回应
	OriginLinkPost Origin = "link_post" // 链接频道中贴出的消息链接
)

// State 下载请求状态
type State string

const (
	StatePending    State = "pending"
	StateAdmitted   State = "admitted"
	StateRejected   State = "rejected"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// RequestID 请求的幂等键：来源聊天 + 来源消息 + 消息内文件序号
type RequestID struct {
	ChatID    int64
	MessageID int
	FileIndex int
}

func (id RequestID) String() string {
	return fmt.Sprintf("%d:%d:%d", id.ChatID, id.MessageID, id.FileIndex)
}

// FileRef 指向消息服务中的文件内容，引擎不解释其含义
type FileRef struct {
	FileID   string
	UniqueID string
	Kind     string
}

// Request 单个待下载文件
type Request struct {
	ID           RequestID
	Origin       Origin
	ChatID       int64
	ChatUsername string
	MessageID    int
	ThreadID     int    // 话题 ID，仅透传
	MediaGroupID string // 多文件消息共享，单文件时为空

	FileName     string
	DeclaredSize int64 // 来源声明的大小，可能缺失或不准确
	MimeType     string
	File         FileRef

	// 触发位置（通知回复用）
	TriggerChatID    int64
	TriggerMessageID int
	Link             string // 链接来源时的原始链接

	State           State
	Reason          Reason
	Detail          string
	AttemptID       string
	DestinationPath string
	Resumable       bool // 目标路径上的部分文件属于本请求，可从断点续传
	CompletedSize   int64

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Extension 返回小写扩展名（含点），无扩展名时返回空串
func (r *Request) Extension() string {
	return strings.ToLower(filepath.Ext(r.FileName))
}

var allowedTransitions = map[State][]State{
	StatePending:    {StateAdmitted, StateRejected},
	StateAdmitted:   {StateInProgress},
	StateInProgress: {StateCompleted, StateFailed},
}

func (r *Request) transition(to State) error {
	for _, next := range allowedTransitions[r.State] {
		if next == to {
			r.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (id=%s)", ErrInvalidTransition, r.State, to, r.ID)
}

func (r *Request) admit() error {
	return r.transition(StateAdmitted)
}

func (r *Request) reject(reason Reason, detail string) error {
	if err := r.transition(StateRejected); err != nil {
		return err
	}
	r.Reason = reason
	r.Detail = detail
	return nil
}

func (r *Request) start(attemptID string, now time.Time) error {
	if err := r.transition(StateInProgress); err != nil {
		return err
	}
	r.AttemptID = attemptID
	r.StartedAt = now
	return nil
}

func (r *Request) complete(size int64, now time.Time) error {
	if err := r.transition(StateCompleted); err != nil {
		return err
	}
	r.CompletedSize = size
	r.FinishedAt = now
	return nil
}

func (r *Request) fail(reason Reason, detail string, now time.Time) error {
	if err := r.transition(StateFailed); err != nil {
		return err
	}
	r.Reason = reason
	r.Detail = detail
	r.FinishedAt = now
	return nil
}

// IsTerminal 是否为终态（被拒绝、完成或失败）
func (r *Request) IsTerminal() bool {
	switch r.State {
	case StateRejected, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// Label 日志与通知中使用的简短描述
func (r *Request) Label() string {
	if r.FileName != "" {
		return r.FileName
	}
	if r.Link != "" {
		return r.Link
	}
	return r.ID.String()
}
