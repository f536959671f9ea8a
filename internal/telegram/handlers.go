package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/telegram/models"
	"tg_downloader/internal/telegram/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// registerHandlers 注册所有命令处理器（异步执行）
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact,
		b.asyncHandler(b.handleStart))
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/ping", bot.MatchTypeExact,
		b.asyncHandler(b.handlePing))

	// 仅 Owner
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact,
		b.asyncHandler(b.RequireOwner(b.handleStatus)))

	logger.L().Debug("All handlers registered with async execution")
}

// asyncHandler 将命令交给工作池执行，避免阻塞更新循环
func (b *Bot) asyncHandler(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		task := HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     next,
		}
		if !b.workerPool.Submit(task) && update.Message != nil {
			b.replyError(ctx, update.Message, "命令处理繁忙，请稍后再试")
		}
	}
}

// handleUpdate 默认处理器：表情回应、媒体存档、链接频道
func (b *Bot) handleUpdate(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	switch {
	case update.MessageReaction != nil:
		b.handleReaction(ctx, update.MessageReaction)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.ChannelPost != nil:
		b.handleMessage(ctx, update.ChannelPost)
	}
}

// handleReaction 转发表情回应变更；非触发事件直接忽略
func (b *Bot) handleReaction(ctx context.Context, reaction *botModels.MessageReactionUpdated) {
	if b.engine == nil {
		return
	}

	oldTokens := reactionTokens(reaction.OldReaction)
	newTokens := reactionTokens(reaction.NewReaction)
	if !downloader.IsTrigger(b.cfg.ReactionEmoji, oldTokens, newTokens) {
		return
	}

	var actorID int64
	if reaction.User != nil {
		actorID = reaction.User.ID
	}

	ev := downloader.ReactionEvent{
		ChatID:       reaction.Chat.ID,
		ChatUsername: reaction.Chat.Username,
		MessageID:    reaction.MessageID,
		ActorID:      actorID,
		OldTokens:    oldTokens,
		NewTokens:    newTokens,
	}
	if err := b.engine.SubmitReaction(ctx, ev); err != nil {
		logger.L().Warnf("Failed to submit reaction: chat_id=%d message_id=%d err=%v",
			reaction.Chat.ID, reaction.MessageID, err)
	}
}

// handleMessage 存档媒体消息，并处理链接频道中的新消息
func (b *Bot) handleMessage(ctx context.Context, msg *botModels.Message) {
	if info := extractMedia(msg); info != nil && b.shouldArchive(msg.Chat) {
		_ = b.mediaService.Archive(ctx, info)
	}

	if !b.cfg.LinkEnabled || b.engine == nil || msg.Chat.ID != b.cfg.LinkChatID {
		return
	}

	text := linkText(msg)
	if text == "" {
		return
	}

	ev := downloader.LinkPostEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		ThreadID:  msg.MessageThreadID,
		Text:      text,
	}
	if err := b.engine.SubmitLinkPost(ctx, ev); err != nil {
		logger.L().Warnf("Failed to submit link post: chat_id=%d message_id=%d err=%v", msg.Chat.ID, msg.ID, err)
	}
}

func (b *Bot) shouldArchive(chat botModels.Chat) bool {
	if b.engine == nil {
		return true
	}
	return b.engine.MonitorsChat(chat.ID, chat.Username)
}

// reactionTokens 将回应列表转换为可比较的字符串
func reactionTokens(reactions []botModels.ReactionType) []string {
	tokens := make([]string, 0, len(reactions))
	for _, r := range reactions {
		switch {
		case r.ReactionTypeEmoji != nil:
			tokens = append(tokens, r.ReactionTypeEmoji.Emoji)
		case r.ReactionTypeCustomEmoji != nil:
			tokens = append(tokens, "custom:"+r.ReactionTypeCustomEmoji.CustomEmojiID)
		}
	}
	return tokens
}

// linkText 消息正文、说明文字以及隐藏在文本链接实体里的 URL
func linkText(msg *botModels.Message) string {
	parts := make([]string, 0, 4)
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}
	for _, entities := range [][]botModels.MessageEntity{msg.Entities, msg.CaptionEntities} {
		for _, e := range entities {
			if e.Type == "text_link" && e.URL != "" {
				parts = append(parts, e.URL)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// extractMedia 提取消息中的文件；照片取最大尺寸
func extractMedia(msg *botModels.Message) *service.MediaMessageInfo {
	info := &service.MediaMessageInfo{
		ChatID:       msg.Chat.ID,
		ChatUsername: msg.Chat.Username,
		MessageID:    msg.ID,
		ThreadID:     msg.MessageThreadID,
		MediaGroupID: msg.MediaGroupID,
		SentAt:       time.Unix(int64(msg.Date), 0),
	}

	switch {
	case msg.Document != nil:
		d := msg.Document
		info.Kind = models.MediaKindDocument
		info.FileID, info.FileUniqueID = d.FileID, d.FileUniqueID
		info.FileName, info.MimeType, info.FileSize = d.FileName, d.MimeType, int64(d.FileSize)
	case msg.Video != nil:
		v := msg.Video
		info.Kind = models.MediaKindVideo
		info.FileID, info.FileUniqueID = v.FileID, v.FileUniqueID
		info.FileName, info.MimeType, info.FileSize = v.FileName, v.MimeType, int64(v.FileSize)
	case msg.Audio != nil:
		a := msg.Audio
		info.Kind = models.MediaKindAudio
		info.FileID, info.FileUniqueID = a.FileID, a.FileUniqueID
		info.FileName, info.MimeType, info.FileSize = a.FileName, a.MimeType, int64(a.FileSize)
	case msg.Animation != nil:
		a := msg.Animation
		info.Kind = models.MediaKindAnimation
		info.FileID, info.FileUniqueID = a.FileID, a.FileUniqueID
		info.FileName, info.MimeType, info.FileSize = a.FileName, a.MimeType, int64(a.FileSize)
	case msg.Voice != nil:
		v := msg.Voice
		info.Kind = models.MediaKindVoice
		info.FileID, info.FileUniqueID = v.FileID, v.FileUniqueID
		info.MimeType, info.FileSize = v.MimeType, int64(v.FileSize)
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		info.Kind = models.MediaKindPhoto
		info.FileID, info.FileUniqueID = p.FileID, p.FileUniqueID
		info.MimeType, info.FileSize = "image/jpeg", int64(p.FileSize)
	default:
		return nil
	}

	return info
}

func largestPhoto(sizes []botModels.PhotoSize) botModels.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.FileSize > best.FileSize || (p.FileSize == best.FileSize && p.Width*p.Height > best.Width*best.Height) {
			best = p
		}
	}
	return best
}

// handleStart 处理 /start 命令
func (b *Bot) handleStart(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	name := "there"
	if update.Message.From != nil && update.Message.From.FirstName != "" {
		name = escapeHTML(update.Message.From.FirstName)
	}

	welcomeText := fmt.Sprintf(
		"👋 你好, %s!\n\n对监控频道中的文件回应 %s 即可下载。\n\n可用命令:\n/start - 开始\n/ping - 测试连接\n/status - 下载状态（需要 Owner 权限）",
		name, b.cfg.ReactionEmoji,
	)

	b.replyText(ctx, update.Message, welcomeText)
}

// handlePing 处理 /ping 命令
func (b *Bot) handlePing(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	b.replyText(ctx, update.Message, b.buildPingMessage(ctx))
}

// handleStatus 处理 /status 命令
func (b *Bot) handleStatus(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
	if update.Message == nil {
		return
	}

	b.replyText(ctx, update.Message, b.buildStatusMessage(ctx))
}
