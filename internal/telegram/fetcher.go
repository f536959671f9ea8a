package telegram

import (
	"context"
	"errors"
	"fmt"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/telegram/service"

	"github.com/go-telegram/bot"
)

// MessageFetcher 通过媒体存档取消息，通过 GetChat 解析用户名
type MessageFetcher struct {
	api   botAPI
	media service.MediaService
	chats *chatCache
}

// NewMessageFetcher 创建取消息组件
func NewMessageFetcher(api botAPI, media service.MediaService) *MessageFetcher {
	return &MessageFetcher{
		api:   api,
		media: media,
		chats: newChatCache(chatCacheSize, chatCacheTTL),
	}
}

// FetchMessage 从存档取回消息
func (f *MessageFetcher) FetchMessage(ctx context.Context, chatID int64, messageID int) (*downloader.SourceMessage, error) {
	return f.media.FetchMessage(ctx, chatID, messageID)
}

// ResolveChat 解析 @username；GetChat 失败时回退到存档中的记录
func (f *MessageFetcher) ResolveChat(ctx context.Context, username string) (int64, error) {
	key := cacheKey(username)
	if key == "" {
		return 0, downloader.NewError(downloader.ReasonLinkResolutionFailed, errors.New("empty username"))
	}
	if chatID, ok := f.chats.Get(key); ok {
		return chatID, nil
	}

	chat, err := f.api.GetChat(ctx, &bot.GetChatParams{ChatID: "@" + key})
	if err == nil {
		f.chats.Set(key, chat.ID)
		return chat.ID, nil
	}

	if chatID, archiveErr := f.media.LookupChatID(ctx, key); archiveErr == nil {
		logger.L().Debugf("Resolved @%s from media archive after GetChat failed: %v", key, err)
		f.chats.Set(key, chatID)
		return chatID, nil
	}

	return 0, downloader.NewError(downloader.ReasonLinkResolutionFailed,
		fmt.Errorf("failed to resolve @%s: %s", key, describeAPIError(err)))
}

// describeAPIError 将 Bot API 错误归类为简短说明
func describeAPIError(err error) string {
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany):
		return fmt.Sprintf("rate limited, retry after %ds", tooMany.RetryAfter)
	case errors.Is(err, bot.ErrorNotFound):
		return "chat not found"
	case errors.Is(err, bot.ErrorForbidden):
		return "bot has no access to chat"
	case errors.Is(err, bot.ErrorBadRequest):
		return fmt.Sprintf("bad request (%v)", err)
	default:
		return err.Error()
	}
}
