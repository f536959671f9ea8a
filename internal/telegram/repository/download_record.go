package repository

import (
	"context"
	"fmt"
	"time"

	"tg_downloader/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type downloadRecordRepository struct {
	collection *mongo.Collection
}

// NewDownloadRecordRepository 创建下载记录仓储实例
func NewDownloadRecordRepository(db *mongo.Database) DownloadRecordRepository {
	return &downloadRecordRepository{
		collection: db.Collection("download_records"),
	}
}

// Upsert 写入请求终态，同一请求的后续尝试覆盖之前的结果
func (r *downloadRecordRepository) Upsert(ctx context.Context, record *models.DownloadRecord) error {
	now := time.Now()
	record.UpdatedAt = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	filter := bson.M{
		"chat_id":    record.ChatID,
		"message_id": record.MessageID,
		"file_index": record.FileIndex,
	}

	update := bson.M{
		"$set": bson.M{
			"origin":           record.Origin,
			"file_name":        record.FileName,
			"destination_path": record.DestinationPath,
			"declared_size":    record.DeclaredSize,
			"size":             record.Size,
			"status":           record.Status,
			"reason":           record.Reason,
			"detail":           record.Detail,
			"attempt_id":       record.AttemptID,
			"started_at":       record.StartedAt,
			"finished_at":      record.FinishedAt,
			"updated_at":       record.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": record.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert download record: %w", err)
	}
	return nil
}

// ListCompleted 列出所有已完成的记录（启动时恢复去重表）
func (r *downloadRecordRepository) ListCompleted(ctx context.Context) ([]*models.DownloadRecord, error) {
	filter := bson.M{"status": models.DownloadStatusCompleted}
	opts := options.Find().SetProjection(bson.M{
		"chat_id":    1,
		"message_id": 1,
		"file_index": 1,
		"size":       1,
		"status":     1,
	})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query download records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*models.DownloadRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode download records: %w", err)
	}

	return records, nil
}

// CountByStatus 按状态统计
func (r *downloadRecordRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$status",
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count download records: %w", err)
	}
	defer cursor.Close(ctx)

	result := make(map[string]int64)
	for cursor.Next(ctx) {
		var doc struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode count result: %w", err)
		}
		result[doc.ID] = doc.Count
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return result, nil
}

// EnsureIndexes 确保索引存在
func (r *downloadRecordRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 复合唯一索引（请求 ID）
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "message_id", Value: 1},
				{Key: "file_index", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes for download_records: %w", err)
	}

	return nil
}
