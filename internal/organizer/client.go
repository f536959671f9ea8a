package organizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg_downloader/internal/config"
)

const commandPath = "/api/v3/command"

// Client 封装与外部媒体整理服务的 HTTP 通讯
// 只有一个操作：触发指定目录的扫描
type Client struct {
	baseURL string
	apiKey  string
	command string

	httpClient *http.Client
}

// Option 自定义客户端行为
type Option func(*Client)

// WithHTTPClient 自定义 HTTP 客户端（测试时使用）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient 根据配置创建整理服务客户端
func NewClient(cfg config.OrganizerConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("organizer base URL is empty")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("organizer API key is empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	command := cfg.Command
	if command == "" {
		command = "DownloadedEpisodesScan"
	}

	client := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		command: command,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// StatusError 表示整理服务返回了非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("organizer http error: status=%d, body=%s", e.StatusCode, e.Body)
}

type commandRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// TriggerScan 请求整理服务扫描 path 目录
// 任何传输错误或非 2xx 响应都返回错误，由调用方决定如何处理
func (c *Client) TriggerScan(ctx context.Context, path string) error {
	payload, err := json.Marshal(commandRequest{Name: c.command, Path: path})
	if err != nil {
		return fmt.Errorf("encode organizer command failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+commandPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request organizer failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
