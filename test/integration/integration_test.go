//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"tg_downloader/internal/downloader"
	mongoclient "tg_downloader/internal/mongo"
	"tg_downloader/internal/telegram/models"
	"tg_downloader/internal/telegram/repository"
	"tg_downloader/internal/telegram/service"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

func TestMediaArchiveIntegrationFlow(t *testing.T) {
	t.Parallel()

	db := setupIntegrationDatabase(t)
	mediaRepo := repository.NewMongoMediaRepository(db)
	mediaService := service.NewMediaService(mediaRepo)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := mediaRepo.EnsureIndexes(ctx, 24*time.Hour); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}

	const chatID = int64(-20001)
	for _, id := range []int{103, 101, 102} {
		info := &service.MediaMessageInfo{
			ChatID:       chatID,
			ChatUsername: "@Integration_Chan",
			MessageID:    id,
			MediaGroupID: "album-1",
			Kind:         models.MediaKindVideo,
			FileID:       fmt.Sprintf("file-%d", id),
			FileUniqueID: fmt.Sprintf("uniq-%d", id),
			MimeType:     "video/mp4",
			FileSize:     int64(id) * 10,
			SentAt:       time.Now().UTC(),
		}
		if err := mediaService.Archive(ctx, info); err != nil {
			t.Fatalf("failed to archive message %d: %v", id, err)
		}
	}

	// 重复存档同一条消息只更新不新增
	if err := mediaService.Archive(ctx, &service.MediaMessageInfo{
		ChatID: chatID, ChatUsername: "integration_chan", MessageID: 101, MediaGroupID: "album-1",
		Kind: models.MediaKindVideo, FileID: "file-101", FileUniqueID: "uniq-101", MimeType: "video/mp4", FileSize: 1010,
	}); err != nil {
		t.Fatalf("failed to re-archive message: %v", err)
	}

	msg, err := mediaService.FetchMessage(ctx, chatID, 103)
	if err != nil {
		t.Fatalf("failed to fetch message: %v", err)
	}
	if msg.MessageID != 101 {
		t.Fatalf("unexpected anchor: got %d, want 101", msg.MessageID)
	}
	if len(msg.Attachments) != 3 {
		t.Fatalf("unexpected attachment count: got %d, want 3", len(msg.Attachments))
	}
	if msg.Attachments[0].File.FileID != "file-101" || msg.Attachments[2].File.FileID != "file-103" {
		t.Fatalf("attachments not ordered by message id: %+v", msg.Attachments)
	}
	if msg.Attachments[1].FileName != "telegram_file_-20001_101_1.mp4" {
		t.Fatalf("unexpected fallback name: %s", msg.Attachments[1].FileName)
	}

	resolved, err := mediaService.LookupChatID(ctx, "@integration_chan")
	if err != nil || resolved != chatID {
		t.Fatalf("unexpected username lookup: id=%d err=%v", resolved, err)
	}

	if _, err := mediaService.FetchMessage(ctx, chatID, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDownloadRecordIntegrationFlow(t *testing.T) {
	t.Parallel()

	db := setupIntegrationDatabase(t)
	recordRepo := repository.NewDownloadRecordRepository(db)
	recordService := service.NewDownloadRecordService(recordRepo)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := recordRepo.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}

	id := downloader.RequestID{ChatID: -20002, MessageID: 5, FileIndex: 1}
	failed := &downloader.Request{
		ID:        id,
		Origin:    downloader.OriginReaction,
		FileName:  "movie.mkv",
		State:     downloader.StateFailed,
		Reason:    downloader.ReasonTransferInterrupted,
		AttemptID: "attempt-1",
	}
	if err := recordService.SaveOutcome(ctx, failed); err != nil {
		t.Fatalf("failed to save failed outcome: %v", err)
	}

	// 重试成功后覆盖同一条记录
	completed := *failed
	completed.State = downloader.StateCompleted
	completed.Reason = ""
	completed.AttemptID = "attempt-2"
	completed.CompletedSize = 4096
	if err := recordService.SaveOutcome(ctx, &completed); err != nil {
		t.Fatalf("failed to save completed outcome: %v", err)
	}

	outcomes, err := recordService.LoadCompleted(ctx)
	if err != nil {
		t.Fatalf("failed to load completed outcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].ID != id || outcomes[0].Size != 4096 {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	counts, err := recordService.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if counts[models.DownloadStatusCompleted] != 1 || counts[models.DownloadStatusFailed] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func setupIntegrationDatabase(t *testing.T) *mongodriver.Database {
	t.Helper()

	uri := envOrDefault("MONGO_URI", "mongodb://localhost:27017")
	baseDatabase := envOrDefault("TEST_DATABASE", "test_tg_downloader")
	databaseName := fmt.Sprintf("%s_%d", baseDatabase, time.Now().UnixNano())

	client, err := mongoclient.NewClient(mongoclient.Config{
		URI:      uri,
		Database: databaseName,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		if isCIEnvironment() {
			t.Fatalf("failed to connect MongoDB in CI: %v", err)
		}
		t.Skipf("MongoDB is not available locally, skip integration test: %v", err)
		return nil
	}

	db := client.Database()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.Drop(ctx); err != nil {
			t.Errorf("failed to drop integration database %s: %v", databaseName, err)
		}
		if err := client.Close(ctx); err != nil {
			t.Errorf("failed to close MongoDB connection: %v", err)
		}
	})

	return db
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func isCIEnvironment() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
