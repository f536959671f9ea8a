package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"tg_downloader/internal/downloader"
	"tg_downloader/internal/logger"

	"github.com/go-telegram/bot"
)

// ContentSource 通过 Bot API 文件链接读取内容，支持 Range 续传
// 本地 Bot API 服务器（--local）返回绝对路径时直接读取本地文件
type ContentSource struct {
	api        botAPI
	client     *http.Client
	localFiles bool
}

// NewContentSource 创建文件内容源
func NewContentSource(api botAPI, client *http.Client, localFiles bool) *ContentSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &ContentSource{api: api, client: client, localFiles: localFiles}
}

// Open 从 offset 处打开文件内容
// 服务端返回 200 时忽略了 Range，Stream.Offset 为 0
func (s *ContentSource) Open(ctx context.Context, file downloader.FileRef, offset int64) (*downloader.Stream, error) {
	f, err := s.api.GetFile(ctx, &bot.GetFileParams{FileID: file.FileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %s", file.FileID, describeAPIError(err))
	}
	total := int64(f.FileSize)
	if s.localFiles && filepath.IsAbs(f.FilePath) {
		return openLocal(f.FilePath, offset, total)
	}
	link := s.api.FileDownloadLink(f)

	resp, err := s.get(ctx, link, offset)
	if err != nil {
		return nil, err
	}

	// 偏移超出文件大小，从头下载
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		logger.L().Warnf("Range %d not satisfiable for file %s, restarting", offset, file.FileID)
		offset = 0
		if resp, err = s.get(ctx, link, 0); err != nil {
			return nil, err
		}
	}

	var start int64
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start = offset
	case http.StatusOK:
		start = 0
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file %s: status %d: %s", file.FileID, resp.StatusCode, body)
	}

	if total <= 0 && resp.ContentLength >= 0 {
		total = start + resp.ContentLength
	}

	return &downloader.Stream{Body: resp.Body, Offset: start, Total: total}, nil
}

func (s *ContentSource) get(ctx context.Context, link string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return resp, nil
}

// openLocal 读取本地 Bot API 服务器保存的文件
func openLocal(path string, offset, total int64) (*downloader.Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat local file %s: %w", path, err)
	}
	if total <= 0 {
		total = info.Size()
	}
	if offset > info.Size() {
		offset = 0
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek local file %s: %w", path, err)
	}
	return &downloader.Stream{Body: file, Offset: offset, Total: total}, nil
}
