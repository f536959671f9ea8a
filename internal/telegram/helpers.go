package telegram

import (
	"context"
	"html"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"tg_downloader/internal/logger"
)

// replyText 在命令所在的聊天和话题中回复（HTML 格式，关闭链接预览）
func (b *Bot) replyText(ctx context.Context, msg *botModels.Message, text string) {
	params := &bot.SendMessageParams{
		ChatID:          msg.Chat.ID,
		MessageThreadID: msg.MessageThreadID,
		Text:            text,
		ParseMode:       botModels.ParseModeHTML,
		ReplyParameters: &botModels.ReplyParameters{
			MessageID:                msg.ID,
			AllowSendingWithoutReply: true,
		},
		LinkPreviewOptions: &botModels.LinkPreviewOptions{IsDisabled: bot.True()},
	}

	if _, err := b.api.SendMessage(ctx, params); err != nil {
		logger.L().Errorf("Failed to reply in chat %d: %s", msg.Chat.ID, describeAPIError(err))
	}
}

// replyError 回复错误提示
func (b *Bot) replyError(ctx context.Context, msg *botModels.Message, text string) {
	b.replyText(ctx, msg, "❌ "+escapeHTML(text))
}

// escapeHTML 转义动态内容（文件名、错误信息）
func escapeHTML(s string) string {
	return html.EscapeString(s)
}
