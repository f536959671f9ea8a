package downloader

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tg_downloader/internal/logger"
)

// Attachment 消息中的单个文件
type Attachment struct {
	FileName string
	MimeType string
	Size     int64
	File     FileRef
}

// SourceMessage 按 ID 取回的来源消息
// 媒体组消息取回时，MessageID 为组内最小的消息 ID，Attachments 按消息 ID 排序
type SourceMessage struct {
	ChatID       int64
	ChatUsername string
	MessageID    int
	ThreadID     int
	MediaGroupID string
	Attachments  []Attachment
}

// MessageFetcher 消息服务提供的取消息能力
type MessageFetcher interface {
	// FetchMessage 按聊天 ID 和消息 ID 取回消息及其附件
	FetchMessage(ctx context.Context, chatID int64, messageID int) (*SourceMessage, error)

	// ResolveChat 将 @username 解析为聊天 ID
	ResolveChat(ctx context.Context, username string) (int64, error)
}

// ReactionEvent 表情回应变更事件
type ReactionEvent struct {
	ChatID       int64
	ChatUsername string
	MessageID    int
	ActorID      int64
	OldTokens    []string
	NewTokens    []string
}

// LinkPostEvent 链接频道中的新消息
type LinkPostEvent struct {
	ChatID    int64
	MessageID int
	ThreadID  int
	Text      string
}

// Link 从文本中解析出的消息链接
type Link struct {
	Raw       string
	Username  string // 公开频道/群组的用户名
	ChatID    int64  // t.me/c/<id> 形式时的完整聊天 ID
	ThreadID  int
	MessageID int
}

var linkPattern = regexp.MustCompile(`(?i)(?:https?://)?(?:t\.me|telegram\.me)/(c/\d+|[a-z][a-z0-9_]{3,31})(?:/(\d+))?/(\d+)\b`)

// ParseLinks 提取文本中所有 <前缀>/<聊天引用>/<消息ID> 形式的链接
func ParseLinks(text string) []Link {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	links := make([]Link, 0, len(matches))

	for _, m := range matches {
		messageID, err := strconv.Atoi(m[3])
		if err != nil || messageID <= 0 {
			continue
		}

		link := Link{Raw: m[0], MessageID: messageID}
		if m[2] != "" {
			link.ThreadID, _ = strconv.Atoi(m[2])
		}

		ref := m[1]
		if strings.HasPrefix(strings.ToLower(ref), "c/") {
			internal, err := strconv.ParseInt(ref[2:], 10, 64)
			if err != nil {
				continue
			}
			// 私有频道链接中的 ID 需补上 -100 前缀
			link.ChatID = -1000000000000 - internal
		} else {
			link.Username = ref
		}

		links = append(links, link)
	}

	return links
}

// IsTrigger 仅当配置的表情从无到有时才触发下载
// 移除、切换到其他表情、重复提交同一组表情都不触发
func IsTrigger(token string, oldTokens, newTokens []string) bool {
	if token == "" {
		return false
	}
	return containsToken(newTokens, token) && !containsToken(oldTokens, token)
}

func containsToken(tokens []string, token string) bool {
	want := normalizeToken(token)
	for _, t := range tokens {
		if normalizeToken(t) == want {
			return true
		}
	}
	return false
}

// normalizeToken 去掉表情变体选择符，使 "❤️" 与 "❤" 等价
func normalizeToken(token string) string {
	return strings.TrimSpace(strings.ReplaceAll(token, "\uFE0F", ""))
}

// IntakeConfig 事件接入配置
type IntakeConfig struct {
	ReactionToken string
	ReactorIDs    []int64 // 为空表示任何人的回应都有效
	LinkChatID    int64
}

// Intake 将两类触发事件转换为下载请求候选
type Intake struct {
	fetcher  MessageFetcher
	token    string
	reactors map[int64]struct{}
	linkChat int64
	nowFunc  func() time.Time
}

// NewIntake 创建事件接入器
func NewIntake(cfg IntakeConfig, fetcher MessageFetcher) *Intake {
	reactors := make(map[int64]struct{}, len(cfg.ReactorIDs))
	for _, id := range cfg.ReactorIDs {
		reactors[id] = struct{}{}
	}

	return &Intake{
		fetcher:  fetcher,
		token:    cfg.ReactionToken,
		reactors: reactors,
		linkChat: cfg.LinkChatID,
		nowFunc:  time.Now,
	}
}

// FromReaction 处理表情回应事件；非触发事件返回 nil 且无副作用
func (in *Intake) FromReaction(ctx context.Context, ev ReactionEvent) []*Request {
	if !IsTrigger(in.token, ev.OldTokens, ev.NewTokens) {
		return nil
	}

	if len(in.reactors) > 0 {
		if _, ok := in.reactors[ev.ActorID]; !ok {
			logger.L().Debugf("Ignoring reaction from non-allowed user: user_id=%d chat_id=%d message_id=%d",
				ev.ActorID, ev.ChatID, ev.MessageID)
			return nil
		}
	}

	logger.L().Infof("Detected %s reaction: chat_id=%d message_id=%d actor=%d", in.token, ev.ChatID, ev.MessageID, ev.ActorID)

	msg, err := in.fetcher.FetchMessage(ctx, ev.ChatID, ev.MessageID)
	if err != nil {
		logger.L().Warnf("Failed to fetch reacted message: chat_id=%d message_id=%d err=%v", ev.ChatID, ev.MessageID, err)
		return nil
	}
	if msg.ChatUsername == "" {
		msg.ChatUsername = ev.ChatUsername
	}

	requests := in.expand(msg, OriginReaction)
	for _, req := range requests {
		req.TriggerChatID = ev.ChatID
		req.TriggerMessageID = ev.MessageID
	}
	if len(requests) == 0 {
		logger.L().Debugf("Reacted message has no media: chat_id=%d message_id=%d", ev.ChatID, ev.MessageID)
	}
	return requests
}

// FromLinkPost 处理链接频道消息，每个链接展开为一组请求
// 解析失败的链接产生一个 LinkResolutionFailed 的拒绝候选
func (in *Intake) FromLinkPost(ctx context.Context, ev LinkPostEvent) [][]*Request {
	if in.linkChat != 0 && ev.ChatID != in.linkChat {
		return nil
	}

	links := ParseLinks(ev.Text)
	batches := make([][]*Request, 0, len(links))

	for i, link := range links {
		batch, err := in.resolveLink(ctx, link)
		if err != nil {
			logger.L().Warnf("Failed to resolve link %s: %v", link.Raw, err)
			batch = []*Request{in.linkFailure(ev, i, link, err)}
		}
		for _, req := range batch {
			req.TriggerChatID = ev.ChatID
			req.TriggerMessageID = ev.MessageID
			req.Link = link.Raw
			if req.ThreadID == 0 && req.State == StateRejected {
				req.ThreadID = ev.ThreadID
			}
		}
		batches = append(batches, batch)
	}

	return batches
}

func (in *Intake) resolveLink(ctx context.Context, link Link) ([]*Request, error) {
	chatID := link.ChatID
	if chatID == 0 {
		resolved, err := in.fetcher.ResolveChat(ctx, link.Username)
		if err != nil {
			return nil, fmt.Errorf("resolve chat %q: %w", link.Username, err)
		}
		chatID = resolved
	}

	msg, err := in.fetcher.FetchMessage(ctx, chatID, link.MessageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %d in chat %d: %w", link.MessageID, chatID, err)
	}
	if msg.ChatUsername == "" {
		msg.ChatUsername = link.Username
	}

	requests := in.expand(msg, OriginLinkPost)
	if len(requests) == 0 {
		return nil, fmt.Errorf("message %d in chat %d has no media", link.MessageID, chatID)
	}
	return requests, nil
}

func (in *Intake) linkFailure(ev LinkPostEvent, index int, link Link, err error) *Request {
	req := &Request{
		ID:        RequestID{ChatID: ev.ChatID, MessageID: ev.MessageID, FileIndex: index},
		Origin:    OriginLinkPost,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		State:     StatePending,
		CreatedAt: in.nowFunc(),
	}
	_ = req.reject(ReasonLinkResolutionFailed, fmt.Sprintf("%s: %v", link.Raw, err))
	return req
}

// expand 将消息的 N 个附件展开为 N 个请求；N>1 时共享 media_group_id
func (in *Intake) expand(msg *SourceMessage, origin Origin) []*Request {
	if msg == nil || len(msg.Attachments) == 0 {
		return nil
	}

	groupID := ""
	if len(msg.Attachments) > 1 {
		groupID = msg.MediaGroupID
		if groupID == "" {
			groupID = fmt.Sprintf("%d:%d", msg.ChatID, msg.MessageID)
		}
	}

	now := in.nowFunc()
	requests := make([]*Request, 0, len(msg.Attachments))
	for i, att := range msg.Attachments {
		id := RequestID{ChatID: msg.ChatID, MessageID: msg.MessageID, FileIndex: i}
		requests = append(requests, &Request{
			ID:           id,
			Origin:       origin,
			ChatID:       msg.ChatID,
			ChatUsername: msg.ChatUsername,
			MessageID:    msg.MessageID,
			ThreadID:     msg.ThreadID,
			MediaGroupID: groupID,
			FileName:     att.FileName,
			DeclaredSize: att.Size,
			MimeType:     att.MimeType,
			File:         att.File,
			State:        StatePending,
			CreatedAt:    now,
		})
	}
	return requests
}
