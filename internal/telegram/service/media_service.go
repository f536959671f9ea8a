package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"
	"tg_downloader/internal/telegram/models"
	"tg_downloader/internal/telegram/repository"
)

// MediaServiceImpl 媒体存档服务实现
type MediaServiceImpl struct {
	mediaRepo repository.MediaRepository
}

// NewMediaService 创建媒体存档服务
func NewMediaService(mediaRepo repository.MediaRepository) MediaService {
	return &MediaServiceImpl{mediaRepo: mediaRepo}
}

// Archive 存档带文件的消息
func (s *MediaServiceImpl) Archive(ctx context.Context, info *MediaMessageInfo) error {
	media := &models.ArchivedMedia{
		ChatID:       info.ChatID,
		ChatUsername: info.ChatUsername,
		MessageID:    int64(info.MessageID),
		ThreadID:     int64(info.ThreadID),
		MediaGroupID: info.MediaGroupID,
		Kind:         info.Kind,
		FileID:       info.FileID,
		FileUniqueID: info.FileUniqueID,
		FileName:     info.FileName,
		MimeType:     info.MimeType,
		FileSize:     info.FileSize,
		SentAt:       info.SentAt,
	}

	if err := s.mediaRepo.Save(ctx, media); err != nil {
		logger.L().Errorf("Failed to archive media: chat_id=%d, message_id=%d, kind=%s, error=%v",
			info.ChatID, info.MessageID, info.Kind, err)
		return fmt.Errorf("failed to archive media message: %w", err)
	}

	logger.L().Debugf("Media archived: chat_id=%d, message_id=%d, kind=%s, group=%s",
		info.ChatID, info.MessageID, info.Kind, info.MediaGroupID)
	return nil
}

// FetchMessage 从存档中取回消息
// 相册中任意成员都会取回整个相册，MessageID 为组内最小消息 ID
func (s *MediaServiceImpl) FetchMessage(ctx context.Context, chatID int64, messageID int) (*downloader.SourceMessage, error) {
	media, err := s.mediaRepo.GetByMessage(ctx, chatID, int64(messageID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	members := []*models.ArchivedMedia{media}
	if media.InGroup() {
		group, err := s.mediaRepo.ListByMediaGroup(ctx, chatID, media.MediaGroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch media group: %w", err)
		}
		if len(group) > 0 {
			members = group
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].MessageID < members[j].MessageID
	})

	anchor := members[0]
	msg := &downloader.SourceMessage{
		ChatID:       chatID,
		ChatUsername: anchor.ChatUsername,
		MessageID:    int(anchor.MessageID),
		ThreadID:     int(anchor.ThreadID),
		MediaGroupID: anchor.MediaGroupID,
		Attachments:  make([]downloader.Attachment, 0, len(members)),
	}
	for i, m := range members {
		msg.Attachments = append(msg.Attachments, downloader.Attachment{
			FileName: attachmentName(m, chatID, msg.MessageID, i),
			MimeType: m.MimeType,
			Size:     m.FileSize,
			File: downloader.FileRef{
				FileID:   m.FileID,
				UniqueID: m.FileUniqueID,
				Kind:     m.Kind,
			},
		})
	}

	return msg, nil
}

// LookupChatID 根据存档中的聊天用户名查找聊天 ID
func (s *MediaServiceImpl) LookupChatID(ctx context.Context, username string) (int64, error) {
	chatID, err := s.mediaRepo.FindChatIDByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to lookup chat id: %w", err)
	}
	return chatID, nil
}

// attachmentName 无文件名时生成确定性的名称
func attachmentName(m *models.ArchivedMedia, chatID int64, anchorID, index int) string {
	if m.FileName != "" {
		return m.FileName
	}
	if m.Kind == models.MediaKindPhoto {
		return fmt.Sprintf("telegram_photo_%d_%d_%d.jpg", chatID, anchorID, index)
	}

	name := fmt.Sprintf("telegram_file_%d_%d_%d", chatID, anchorID, index)
	if ext := mimeSubtype(m.MimeType); ext != "" {
		name += "." + ext
	}
	return name
}

// mimeSubtype video/mp4; codecs=... -> mp4
func mimeSubtype(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(mimeType), "/")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(sub))
}
