package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg_downloader/internal/telegram/models"
)

const defaultNetworkProbeURL = "https://api.telegram.org"

// buildPingMessage 构建 /ping 命令的响应文本
func (b *Bot) buildPingMessage(ctx context.Context) string {
	lines := []string{"🏓 Pong!"}

	if !b.startTime.IsZero() {
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", formatDuration(time.Since(b.startTime))))
	}

	if b.db != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := b.db.Client().Ping(dbCtx, nil); err != nil {
			lines = append(lines, fmt.Sprintf("🗄 数据库: ⚠️ %s", escapeHTML(err.Error())))
		} else {
			lines = append(lines, "🗄 数据库: ✅ 正常")
		}
	}

	target := b.cfg.APIURL
	if target == "" {
		target = defaultNetworkProbeURL
	}

	networkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	latency, statusCode, err := probeNetwork(networkCtx, target)
	if err != nil {
		lines = append(lines, fmt.Sprintf("🌐 网络: ⚠️ 测速失败 (%s)", escapeHTML(err.Error())))
	} else {
		lines = append(lines, fmt.Sprintf("🌐 网络延迟: %s（%s，HTTP %d）", latency.Round(time.Millisecond), target, statusCode))
	}

	return strings.Join(lines, "\n")
}

// buildStatusMessage 构建 /status 命令的响应文本
func (b *Bot) buildStatusMessage(ctx context.Context) string {
	lines := []string{"📥 下载状态"}

	if b.engine != nil {
		stats := b.engine.Stats()
		lines = append(lines,
			fmt.Sprintf("🛠 并发: %d/%d", stats.Scheduler.Active, stats.Scheduler.Workers),
			fmt.Sprintf("⏳ 排队: %d", stats.Scheduler.QueueLength),
			fmt.Sprintf("✅ 本次完成: %d", stats.Tracker.Completed),
			fmt.Sprintf("❌ 本次失败: %d", stats.Tracker.Failed),
		)
	} else {
		lines = append(lines, "⚠️ 下载引擎未启动")
	}

	if b.recordService != nil {
		counts, err := b.recordService.CountByStatus(ctx)
		if err != nil {
			lines = append(lines, fmt.Sprintf("🗄 历史记录: ⚠️ %s", escapeHTML(err.Error())))
		} else {
			lines = append(lines, fmt.Sprintf("🗄 历史记录: 完成 %d，失败 %d",
				counts[models.DownloadStatusCompleted], counts[models.DownloadStatusFailed]))
		}
	}

	if b.workerPool != nil {
		stats := b.workerPool.Stats()
		lines = append(lines, fmt.Sprintf("🤖 命令队列: %d/%d（已处理 %d，丢弃 %d）",
			stats.QueueLength, stats.QueueCapacity, stats.Processed, stats.Dropped))
	}

	if !b.startTime.IsZero() {
		lines = append(lines, fmt.Sprintf("⏱ 运行时间: %s", formatDuration(time.Since(b.startTime))))
	}

	return strings.Join(lines, "\n")
}

// probeNetwork 测试与指定地址的网络连通性，返回耗时与状态码
func probeNetwork(ctx context.Context, target string) (time.Duration, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}

	client := &http.Client{Timeout: 3 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return time.Since(start), resp.StatusCode, nil
}

// formatDuration 将持续时间格式化为人类可读的字符串
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d天", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d小时", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d分钟", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d秒", seconds))
	}

	return strings.Join(parts, " ")
}
