package telegram

import (
	"context"

	"tg_downloader/internal/logger"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

// RequireOwner 中间件：仅允许 Owner 执行；未配置 Owner 时不限制
func (b *Bot) RequireOwner(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if update.Message == nil {
			return
		}

		if !b.isOwner(update.Message.From) {
			var userID int64
			if update.Message.From != nil {
				userID = update.Message.From.ID
			}
			logger.L().Warnf("Non-owner user %d attempted to use owner command", userID)
			b.replyError(ctx, update.Message, "此命令仅限 Bot Owner 使用")
			return
		}

		next(ctx, botInstance, update)
	}
}

func (b *Bot) isOwner(user *botModels.User) bool {
	if len(b.ownerIDs) == 0 {
		return true
	}
	if user == nil {
		return false
	}
	_, ok := b.ownerIDs[user.ID]
	return ok
}
