package telegram

import (
	"context"
	"fmt"

	"tg_downloader/internal/downloader"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// Notifier 发送下载状态通知
type Notifier struct {
	api     botAPI
	chatID  int64 // 0 表示回复到触发消息所在聊天
	limiter *RateLimiter
}

// NewNotifier 创建通知发送器；limiter 为 nil 时不限速
func NewNotifier(api botAPI, chatID int64, limiter *RateLimiter) *Notifier {
	return &Notifier{api: api, chatID: chatID, limiter: limiter}
}

// Notify 发送纯文本通知
func (n *Notifier) Notify(ctx context.Context, note downloader.Notification) error {
	params := &bot.SendMessageParams{Text: note.Text}

	if n.chatID != 0 || note.Request == nil {
		params.ChatID = n.chatID
	} else {
		req := note.Request
		chatID, replyTo := req.TriggerChatID, req.TriggerMessageID
		if chatID == 0 {
			chatID, replyTo = req.ChatID, req.MessageID
		}
		params.ChatID = chatID
		if chatID == req.ChatID && req.ThreadID != 0 {
			params.MessageThreadID = req.ThreadID
		}
		if replyTo > 0 {
			params.ReplyParameters = &botModels.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			}
		}
	}

	if params.ChatID == int64(0) {
		return fmt.Errorf("failed to send notification: no target chat")
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if _, err := n.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
