package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tg_downloader/internal/logger"
)

// Stream 从消息服务打开的文件内容流
type Stream struct {
	Body io.ReadCloser
	// Offset 内容流实际的起始偏移；服务端不支持续传时为 0
	Offset int64
	// Total 来源报告的文件总大小，未知时为 0
	Total int64
}

// ContentSource 消息服务的分块文件传输能力
type ContentSource interface {
	Open(ctx context.Context, file FileRef, offset int64) (*Stream, error)
}

// errSizeLimit 写入超过大小上限
var errSizeLimit = errors.New("size limit exceeded")

// Transfer 单文件传输：断点续传 + 大小校验
type Transfer struct {
	source  ContentSource
	maxSize int64 // 实际大小上限，<=0 表示不限制
	metrics *Metrics
}

// NewTransfer 创建传输引擎
func NewTransfer(source ContentSource, maxSize int64, metrics *Metrics) *Transfer {
	return &Transfer{source: source, maxSize: maxSize, metrics: metrics}
}

// resumeOffset 决定续传起点：部分文件属于本请求且严格小于已知总大小时续传，否则删除重来
func resumeOffset(path string, knownTotal int64, resumable bool) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	if resumable && knownTotal > 0 && info.Size() < knownTotal {
		return info.Size(), nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	return 0, nil
}

// Run 把请求对应的文件完整写到 DestinationPath，返回最终文件大小
// 传输中断时保留部分文件；校验失败时删除文件
func (t *Transfer) Run(ctx context.Context, req *Request) (int64, error) {
	path := req.DestinationPath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to create download directory: %w", err))
	}

	offset, err := resumeOffset(path, req.DeclaredSize, req.Resumable)
	if err != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to inspect partial file: %w", err))
	}

	stream, err := t.source.Open(ctx, req.File, offset)
	if err != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to open source stream: %w", err))
	}
	defer stream.Body.Close()

	if t.maxSize > 0 && stream.Total > t.maxSize {
		removeFile(path)
		return 0, NewError(ReasonTooLarge,
			fmt.Errorf("source reported %d bytes, limit is %d", stream.Total, t.maxSize))
	}

	total := stream.Total
	if total <= 0 {
		total = req.DeclaredSize
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to open destination: %w", err))
	}

	switch {
	case stream.Offset == offset:
	case stream.Offset == 0:
		// 服务端从头返回内容，丢弃已有部分
		logger.L().Infof("Source ignored resume offset %d, restarting %s from zero", offset, req.Label())
		if err := file.Truncate(0); err != nil {
			file.Close()
			return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to truncate partial file: %w", err))
		}
	default:
		file.Close()
		return 0, NewError(ReasonTransferInterrupted,
			fmt.Errorf("source returned offset %d, requested %d", stream.Offset, offset))
	}

	if stream.Offset > 0 {
		logger.L().Infof("Resuming %s at offset %d of %d", req.Label(), stream.Offset, total)
	}

	writer := &ProgressWriter{
		Writer:  file,
		Written: stream.Offset,
		Total:   total,
		Limit:   t.maxSize,
		OnWrite: t.metrics.addBytes,
		OnUpdate: func(written, total int64) {
			logger.L().Debugf("Transfer progress: %s %d/%d", req.Label(), written, total)
		},
	}

	_, copyErr := io.Copy(writer, stream.Body)
	closeErr := file.Close()
	if errors.Is(copyErr, errSizeLimit) {
		removeFile(path)
		return 0, NewError(ReasonTooLarge,
			fmt.Errorf("transfer exceeded the limit of %d bytes", t.maxSize))
	}
	if copyErr != nil {
		return 0, NewError(ReasonTransferInterrupted, copyErr)
	}
	if closeErr != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to close destination: %w", closeErr))
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, NewError(ReasonTransferInterrupted, fmt.Errorf("failed to stat destination: %w", err))
	}

	if total > 0 && info.Size() != total {
		removeFile(path)
		return 0, NewError(ReasonIncompleteTransfer,
			fmt.Errorf("size mismatch: got %d bytes, source reported %d", info.Size(), total))
	}

	return info.Size(), nil
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.L().Warnf("Failed to remove file %s: %v", path, err)
	}
}

// ProgressWriter 包装 writer 统计写入进度
// OnUpdate 每写入约 1% 调用一次；Limit > 0 时总写入量不能超过 Limit
type ProgressWriter struct {
	Writer   io.Writer
	Total    int64
	Written  int64
	Limit    int64
	OnWrite  func(n int64)
	OnUpdate func(written, total int64)

	lastReported int64
}

// Write implements io.Writer.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	if pw.Limit > 0 && pw.Written+int64(len(p)) > pw.Limit {
		return 0, errSizeLimit
	}

	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnWrite != nil {
		pw.OnWrite(int64(n))
	}

	if pw.OnUpdate != nil {
		step := pw.Total / 100
		if step <= 0 || pw.Written-pw.lastReported >= step || pw.Written == pw.Total {
			pw.lastReported = pw.Written
			pw.OnUpdate(pw.Written, pw.Total)
		}
	}
	return n, err
}
