package service

import (
	"context"
	"fmt"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/telegram/models"
	"tg_downloader/internal/telegram/repository"
)

// DownloadRecordServiceImpl 下载记录服务实现
type DownloadRecordServiceImpl struct {
	recordRepo repository.DownloadRecordRepository
}

// NewDownloadRecordService 创建下载记录服务
func NewDownloadRecordService(recordRepo repository.DownloadRecordRepository) DownloadRecordService {
	return &DownloadRecordServiceImpl{recordRepo: recordRepo}
}

// SaveOutcome 记录请求终态，只接受 Completed 和 Failed
func (s *DownloadRecordServiceImpl) SaveOutcome(ctx context.Context, req *downloader.Request) error {
	var status string
	switch req.State {
	case downloader.StateCompleted:
		status = models.DownloadStatusCompleted
	case downloader.StateFailed:
		status = models.DownloadStatusFailed
	default:
		return fmt.Errorf("failed to record outcome: request %s is %s", req.ID, req.State)
	}

	record := &models.DownloadRecord{
		ChatID:          req.ID.ChatID,
		MessageID:       int64(req.ID.MessageID),
		FileIndex:       req.ID.FileIndex,
		Origin:          string(req.Origin),
		FileName:        req.FileName,
		DestinationPath: req.DestinationPath,
		DeclaredSize:    req.DeclaredSize,
		Size:            req.CompletedSize,
		Status:          status,
		Reason:          string(req.Reason),
		Detail:          req.Detail,
		AttemptID:       req.AttemptID,
		StartedAt:       req.StartedAt,
		FinishedAt:      req.FinishedAt,
	}

	if err := s.recordRepo.Upsert(ctx, record); err != nil {
		logger.L().Errorf("Failed to save download record: id=%s, status=%s, error=%v", req.ID, status, err)
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// LoadCompleted 读取已完成的请求
func (s *DownloadRecordServiceImpl) LoadCompleted(ctx context.Context) ([]downloader.CompletedOutcome, error) {
	records, err := s.recordRepo.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed downloads: %w", err)
	}

	outcomes := make([]downloader.CompletedOutcome, 0, len(records))
	for _, r := range records {
		outcomes = append(outcomes, downloader.CompletedOutcome{
			ID: downloader.RequestID{
				ChatID:    r.ChatID,
				MessageID: int(r.MessageID),
				FileIndex: r.FileIndex,
			},
			Size: r.Size,
			Path: r.DestinationPath,
		})
	}

	logger.L().Infof("Loaded %d completed download records", len(outcomes))
	return outcomes, nil
}

// CountByStatus 各状态的历史记录数
func (s *DownloadRecordServiceImpl) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := s.recordRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count download records: %w", err)
	}
	return counts, nil
}
