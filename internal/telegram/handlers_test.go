package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/telegram/models"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"
)

func TestHandleReactionSubmitsTrigger(t *testing.T) {
	engine := &fakeEngine{}
	b := newTestBot(newFakeAPI(), newFakeMediaService(), engine, Config{})

	b.handleUpdate(context.Background(), nil, &botModels.Update{
		MessageReaction: &botModels.MessageReactionUpdated{
			Chat:        botModels.Chat{ID: -1001, Username: "movies"},
			MessageID:   42,
			User:        &botModels.User{ID: 7},
			OldReaction: []botModels.ReactionType{emojiReaction("👍")},
			NewReaction: []botModels.ReactionType{emojiReaction("👍"), emojiReaction("❤")},
		},
	})

	require.Len(t, engine.reactions, 1)
	ev := engine.reactions[0]
	require.Equal(t, int64(-1001), ev.ChatID)
	require.Equal(t, "movies", ev.ChatUsername)
	require.Equal(t, 42, ev.MessageID)
	require.Equal(t, int64(7), ev.ActorID)
	require.Equal(t, []string{"👍", "❤"}, ev.NewTokens)
}

func TestHandleReactionIgnoresNonTriggers(t *testing.T) {
	tests := []struct {
		name     string
		old, new []botModels.ReactionType
	}{
		{name: "switch away", old: []botModels.ReactionType{emojiReaction("❤")}, new: []botModels.ReactionType{emojiReaction("👍")}},
		{name: "removal", old: []botModels.ReactionType{emojiReaction("❤")}, new: nil},
		{name: "unchanged", old: []botModels.ReactionType{emojiReaction("❤")}, new: []botModels.ReactionType{emojiReaction("❤")}},
		{name: "other emoji", old: nil, new: []botModels.ReactionType{emojiReaction("🔥")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			b := newTestBot(newFakeAPI(), newFakeMediaService(), engine, Config{})

			b.handleReaction(context.Background(), &botModels.MessageReactionUpdated{
				Chat:        botModels.Chat{ID: -1001},
				MessageID:   1,
				OldReaction: tt.old,
				NewReaction: tt.new,
			})

			if len(engine.reactions) != 0 {
				t.Fatalf("expected no submission, got %d", len(engine.reactions))
			}
		})
	}
}

func TestReactionTokensCustomEmoji(t *testing.T) {
	tokens := reactionTokens([]botModels.ReactionType{
		emojiReaction("❤"),
		{ReactionTypeCustomEmoji: &botModels.ReactionTypeCustomEmoji{CustomEmojiID: "5368324170671202286"}},
		{},
	})
	require.Equal(t, []string{"❤", "custom:5368324170671202286"}, tokens)
}

func TestHandleMessageArchivesMonitoredMedia(t *testing.T) {
	media := newFakeMediaService()
	engine := &fakeEngine{monitored: map[int64]bool{-1001: true}}
	b := newTestBot(newFakeAPI(), media, engine, Config{})

	b.handleUpdate(context.Background(), nil, &botModels.Update{
		ChannelPost: &botModels.Message{
			ID:              42,
			MessageThreadID: 3,
			Chat:            botModels.Chat{ID: -1001, Username: "movies"},
			MediaGroupID:    "album",
			Date:            1700000000,
			Video: &botModels.Video{
				FileID:       "vid",
				FileUniqueID: "uvid",
				FileName:     "clip.mp4",
				MimeType:     "video/mp4",
				FileSize:     2048,
			},
		},
	})
	// 未监控的聊天不存档
	b.handleUpdate(context.Background(), nil, &botModels.Update{
		Message: &botModels.Message{
			ID:       1,
			Chat:     botModels.Chat{ID: -2002},
			Document: &botModels.Document{FileID: "doc", FileName: "a.zip"},
		},
	})
	// 无文件的消息不存档
	b.handleUpdate(context.Background(), nil, &botModels.Update{
		Message: &botModels.Message{ID: 2, Chat: botModels.Chat{ID: -1001}, Text: "hello"},
	})

	archived := media.archivedMedia()
	require.Len(t, archived, 1)
	info := archived[0]
	require.Equal(t, models.MediaKindVideo, info.Kind)
	require.Equal(t, "clip.mp4", info.FileName)
	require.Equal(t, int64(2048), info.FileSize)
	require.Equal(t, 3, info.ThreadID)
	require.Equal(t, "album", info.MediaGroupID)
	require.Equal(t, int64(1700000000), info.SentAt.Unix())
}

func TestExtractMediaLargestPhoto(t *testing.T) {
	info := extractMedia(&botModels.Message{
		ID:   5,
		Chat: botModels.Chat{ID: -1001},
		Photo: []botModels.PhotoSize{
			{FileID: "small", Width: 90, Height: 90, FileSize: 1000},
			{FileID: "large", Width: 1280, Height: 1280, FileSize: 90000},
			{FileID: "medium", Width: 320, Height: 320, FileSize: 9000},
		},
	})

	require.NotNil(t, info)
	require.Equal(t, models.MediaKindPhoto, info.Kind)
	require.Equal(t, "large", info.FileID)
	require.Equal(t, int64(90000), info.FileSize)
	require.Equal(t, "image/jpeg", info.MimeType)
}

func TestExtractMediaKinds(t *testing.T) {
	tests := []struct {
		name string
		msg  *botModels.Message
		kind string
	}{
		{name: "document", msg: &botModels.Message{Document: &botModels.Document{FileID: "x"}}, kind: models.MediaKindDocument},
		{name: "audio", msg: &botModels.Message{Audio: &botModels.Audio{FileID: "x"}}, kind: models.MediaKindAudio},
		{name: "animation", msg: &botModels.Message{Animation: &botModels.Animation{FileID: "x"}}, kind: models.MediaKindAnimation},
		{name: "voice", msg: &botModels.Message{Voice: &botModels.Voice{FileID: "x"}}, kind: models.MediaKindVoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := extractMedia(tt.msg)
			if info == nil || info.Kind != tt.kind || info.FileID != "x" {
				t.Fatalf("unexpected media info: %+v", info)
			}
		})
	}

	if info := extractMedia(&botModels.Message{Text: "no media"}); info != nil {
		t.Fatalf("expected nil for text message, got %+v", info)
	}
}

func TestHandleMessageLinkChat(t *testing.T) {
	engine := &fakeEngine{}
	b := newTestBot(newFakeAPI(), newFakeMediaService(), engine, Config{LinkEnabled: true, LinkChatID: -1009})

	b.handleUpdate(context.Background(), nil, &botModels.Update{
		ChannelPost: &botModels.Message{
			ID:   77,
			Chat: botModels.Chat{ID: -1009},
			Text: "see this",
			Entities: []botModels.MessageEntity{
				{Type: "text_link", Offset: 0, Length: 3, URL: "https://t.me/movies/42"},
			},
		},
	})
	// 其他聊天中的链接不处理
	b.handleUpdate(context.Background(), nil, &botModels.Update{
		Message: &botModels.Message{ID: 1, Chat: botModels.Chat{ID: -1001}, Text: "https://t.me/movies/42"},
	})

	require.Len(t, engine.links, 1)
	ev := engine.links[0]
	require.Equal(t, int64(-1009), ev.ChatID)
	require.Equal(t, 77, ev.MessageID)
	require.True(t, strings.Contains(ev.Text, "https://t.me/movies/42"))

	links := downloader.ParseLinks(ev.Text)
	require.Len(t, links, 1)
	require.Equal(t, "movies", links[0].Username)
}

func TestLinkChatDisabled(t *testing.T) {
	engine := &fakeEngine{}
	b := newTestBot(newFakeAPI(), newFakeMediaService(), engine, Config{LinkEnabled: false, LinkChatID: -1009})

	b.handleMessage(context.Background(), &botModels.Message{ID: 1, Chat: botModels.Chat{ID: -1009}, Text: "https://t.me/movies/42"})

	require.Empty(t, engine.links)
}

func TestStatusMessage(t *testing.T) {
	engine := &fakeEngine{stats: downloader.Stats{
		Scheduler: downloader.SchedulerStats{Workers: 3, Active: 2, QueueLength: 5},
		Tracker:   downloader.TrackerStats{Completed: 9, Failed: 1},
	}}
	b := newTestBot(newFakeAPI(), newFakeMediaService(), engine, Config{})

	text := b.buildStatusMessage(context.Background())

	require.Contains(t, text, "并发: 2/3")
	require.Contains(t, text, "排队: 5")
	require.Contains(t, text, "本次完成: 9")
	require.Contains(t, text, "历史记录: 完成 4，失败 1")
}

func TestRequireOwner(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, newFakeMediaService(), &fakeEngine{}, Config{OwnerIDs: []int64{1}})

	called := 0
	handler := b.RequireOwner(func(ctx context.Context, _ *bot.Bot, update *botModels.Update) { called++ })

	handler(context.Background(), nil, &botModels.Update{Message: &botModels.Message{
		Chat: botModels.Chat{ID: 10}, From: &botModels.User{ID: 2},
	}})
	require.Equal(t, 0, called)
	require.Len(t, api.messages(), 1)

	handler(context.Background(), nil, &botModels.Update{Message: &botModels.Message{
		Chat: botModels.Chat{ID: 10}, From: &botModels.User{ID: 1},
	}})
	require.Equal(t, 1, called)
}

func TestReplyErrorStaysInThread(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, newFakeMediaService(), &fakeEngine{}, Config{})

	b.replyError(context.Background(), &botModels.Message{
		ID:              77,
		MessageThreadID: 5,
		Chat:            botModels.Chat{ID: -1001},
	}, "file <a&b>.mkv")

	sent := api.messages()
	require.Len(t, sent, 1)
	require.Equal(t, int64(-1001), sent[0].ChatID)
	require.Equal(t, 5, sent[0].MessageThreadID)
	require.Equal(t, 77, sent[0].ReplyParameters.MessageID)
	require.True(t, sent[0].ReplyParameters.AllowSendingWithoutReply)
	require.Equal(t, "❌ file &lt;a&amp;b&gt;.mkv", sent[0].Text)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{seconds: 0, want: "0秒"},
		{seconds: 61, want: "1分钟 1秒"},
		{seconds: 3600, want: "1小时"},
		{seconds: 90061, want: "1天 1小时 1分钟 1秒"},
	}

	for _, tt := range tests {
		if got := formatDuration(time.Duration(tt.seconds) * time.Second); got != tt.want {
			t.Fatalf("formatDuration(%ds) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
