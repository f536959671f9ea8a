package telegram

import (
	"context"
	"sync"
	"time"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/telegram/models"
	"tg_downloader/internal/telegram/repository"
	"tg_downloader/internal/telegram/service"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
)

type fakeAPI struct {
	mu       sync.Mutex
	files    map[string]*botModels.File
	fileErr  error
	baseURL  string
	chats    map[string]int64
	chatErr  error
	getChats int
	sent     []*bot.SendMessageParams
	sendErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		files: make(map[string]*botModels.File),
		chats: make(map[string]int64),
	}
}

func (f *fakeAPI) GetFile(ctx context.Context, params *bot.GetFileParams) (*botModels.File, error) {
	if f.fileErr != nil {
		return nil, f.fileErr
	}
	file, ok := f.files[params.FileID]
	if !ok {
		return nil, bot.ErrorBadRequest
	}
	return file, nil
}

func (f *fakeAPI) FileDownloadLink(file *botModels.File) string {
	return f.baseURL + "/" + file.FilePath
}

func (f *fakeAPI) GetChat(ctx context.Context, params *bot.GetChatParams) (*botModels.ChatFullInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getChats++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	id, ok := f.chats[params.ChatID.(string)]
	if !ok {
		return nil, bot.ErrorBadRequest
	}
	return &botModels.ChatFullInfo{ID: id}, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &botModels.Message{ID: len(f.sent)}, nil
}

func (f *fakeAPI) messages() []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*bot.SendMessageParams(nil), f.sent...)
}

func (f *fakeAPI) getChatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getChats
}

type fakeMediaService struct {
	mu       sync.Mutex
	archived []*service.MediaMessageInfo
	messages map[int]*downloader.SourceMessage
	chats    map[string]int64
}

func newFakeMediaService() *fakeMediaService {
	return &fakeMediaService{
		messages: make(map[int]*downloader.SourceMessage),
		chats:    make(map[string]int64),
	}
}

func (f *fakeMediaService) Archive(ctx context.Context, info *service.MediaMessageInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, info)
	return nil
}

func (f *fakeMediaService) FetchMessage(ctx context.Context, chatID int64, messageID int) (*downloader.SourceMessage, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return msg, nil
}

func (f *fakeMediaService) LookupChatID(ctx context.Context, username string) (int64, error) {
	id, ok := f.chats[username]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return id, nil
}

func (f *fakeMediaService) archivedMedia() []*service.MediaMessageInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*service.MediaMessageInfo(nil), f.archived...)
}

type fakeEngine struct {
	mu        sync.Mutex
	reactions []downloader.ReactionEvent
	links     []downloader.LinkPostEvent
	monitored map[int64]bool
	stats     downloader.Stats
}

func (f *fakeEngine) SubmitReaction(ctx context.Context, ev downloader.ReactionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, ev)
	return nil
}

func (f *fakeEngine) SubmitLinkPost(ctx context.Context, ev downloader.LinkPostEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, ev)
	return nil
}

func (f *fakeEngine) MonitorsChat(chatID int64, username string) bool {
	if f.monitored == nil {
		return true
	}
	return f.monitored[chatID]
}

func (f *fakeEngine) Stats() downloader.Stats {
	return f.stats
}

type fakeRecordService struct {
	counts map[string]int64
}

func (f *fakeRecordService) SaveOutcome(ctx context.Context, req *downloader.Request) error {
	return nil
}

func (f *fakeRecordService) LoadCompleted(ctx context.Context) ([]downloader.CompletedOutcome, error) {
	return nil, nil
}

func (f *fakeRecordService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return f.counts, nil
}

// newTestBot 不连接 Telegram 的 Bot
func newTestBot(api *fakeAPI, media *fakeMediaService, engine DownloadEngine, cfg Config) *Bot {
	if cfg.ReactionEmoji == "" {
		cfg.ReactionEmoji = "❤"
	}
	return &Bot{
		api:           api,
		cfg:           cfg,
		ownerIDs:      toIDSet(cfg.OwnerIDs),
		mediaService:  media,
		recordService: &fakeRecordService{counts: map[string]int64{models.DownloadStatusCompleted: 4, models.DownloadStatusFailed: 1}},
		fetcher:       NewMessageFetcher(api, media),
		notifier:      NewNotifier(api, cfg.NotifyChatID, nil),
		engine:        engine,
		startTime:     time.Now(),
	}
}

func emojiReaction(emoji string) botModels.ReactionType {
	return botModels.ReactionType{
		ReactionTypeEmoji: &botModels.ReactionTypeEmoji{Emoji: emoji},
	}
}
