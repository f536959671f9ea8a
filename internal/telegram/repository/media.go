package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tg_downloader/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMediaRepository 媒体存档数据访问层（MongoDB 实现）
type MongoMediaRepository struct {
	collection *mongo.Collection
}

// NewMongoMediaRepository 创建媒体存档 Repository
func NewMongoMediaRepository(db *mongo.Database) MediaRepository {
	return &MongoMediaRepository{
		collection: db.Collection("archived_media"),
	}
}

// Save 存档媒体消息
func (r *MongoMediaRepository) Save(ctx context.Context, media *models.ArchivedMedia) error {
	now := time.Now()
	media.CreatedAt = now
	media.UpdatedAt = now
	media.ChatUsername = normalizeUsername(media.ChatUsername)

	// 使用 Upsert 模式，避免重复插入
	filter := bson.M{
		"chat_id":    media.ChatID,
		"message_id": media.MessageID,
	}

	setFields := bson.M{
		"chat_username":  media.ChatUsername,
		"thread_id":      media.ThreadID,
		"media_group_id": media.MediaGroupID,
		"kind":           media.Kind,
		"file_id":        media.FileID,
		"file_unique_id": media.FileUniqueID,
		"file_name":      media.FileName,
		"mime_type":      media.MimeType,
		"file_size":      media.FileSize,
		"sent_at":        media.SentAt,
		"updated_at":     media.UpdatedAt,
	}

	update := bson.M{
		"$set":         setFields,
		"$setOnInsert": bson.M{"created_at": media.CreatedAt},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save media: %w", err)
	}

	return nil
}

// GetByMessage 根据聊天 ID 和消息 ID 获取存档
func (r *MongoMediaRepository) GetByMessage(ctx context.Context, chatID, messageID int64) (*models.ArchivedMedia, error) {
	filter := bson.M{
		"chat_id":    chatID,
		"message_id": messageID,
	}

	var media models.ArchivedMedia
	err := r.collection.FindOne(ctx, filter).Decode(&media)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: media message_id=%d, chat_id=%d", ErrNotFound, messageID, chatID)
		}
		return nil, fmt.Errorf("failed to get media: %w", err)
	}

	return &media, nil
}

// ListByMediaGroup 列出相册成员
func (r *MongoMediaRepository) ListByMediaGroup(ctx context.Context, chatID int64, mediaGroupID string) ([]*models.ArchivedMedia, error) {
	filter := bson.M{
		"chat_id":        chatID,
		"media_group_id": mediaGroupID,
	}
	opts := options.Find().SetSort(bson.D{{Key: "message_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list media group: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*models.ArchivedMedia
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode media group: %w", err)
	}

	return items, nil
}

// FindChatIDByUsername 根据用户名查找聊天 ID
func (r *MongoMediaRepository) FindChatIDByUsername(ctx context.Context, username string) (int64, error) {
	username = normalizeUsername(username)
	if username == "" {
		return 0, fmt.Errorf("%w: empty username", ErrNotFound)
	}

	opts := options.FindOne().
		SetSort(bson.D{{Key: "sent_at", Value: -1}}).
		SetProjection(bson.M{"chat_id": 1})

	var doc struct {
		ChatID int64 `bson:"chat_id"`
	}
	err := r.collection.FindOne(ctx, bson.M{"chat_username": username}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("%w: chat @%s", ErrNotFound, username)
		}
		return 0, fmt.Errorf("failed to find chat by username: %w", err)
	}

	return doc.ChatID, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoMediaRepository) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	indexes := []mongo.IndexModel{
		// 复合唯一索引（一条消息只存档一次）
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		// 相册成员查询
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "media_group_id", Value: 1},
				{Key: "message_id", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "chat_username", Value: 1}},
		},
		// TTL 索引
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for archived_media: %w", err)
	}

	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
