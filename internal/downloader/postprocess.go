package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tg_downloader/internal/logger"
)

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyCompleted NotificationKind = "completed"
	NotifyFailed    NotificationKind = "failed"
	NotifyRejected  NotificationKind = "rejected"
)

// Notification 发往消息服务的状态通知
type Notification struct {
	Kind    NotificationKind
	Request *Request
	Text    string
}

// Notifier 消息服务的"发送文本消息"能力，尽力而为
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Organizer 外部媒体整理服务
type Organizer interface {
	TriggerScan(ctx context.Context, path string) error
}

// OutcomeStore 持久化请求终态
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, req *Request) error
}

// PostProcessorConfig 后处理配置
type PostProcessorConfig struct {
	OrganizerTimeout time.Duration
}

// PostProcessor 传输结束后的通知与整理触发
type PostProcessor struct {
	notifier  Notifier
	organizer Organizer // nil 表示未启用
	store     OutcomeStore
	metrics   *Metrics
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewPostProcessor 创建后处理器
func NewPostProcessor(cfg PostProcessorConfig, notifier Notifier, organizer Organizer, store OutcomeStore, metrics *Metrics) *PostProcessor {
	timeout := cfg.OrganizerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostProcessor{
		notifier:  notifier,
		organizer: organizer,
		store:     store,
		metrics:   metrics,
		timeout:   timeout,
	}
}

// OnCompleted 成功通知；启用整理服务时异步触发扫描，失败只记日志
func (p *PostProcessor) OnCompleted(ctx context.Context, req *Request) {
	p.metrics.observeOutcome(req)
	p.metrics.observeFileSize(req.CompletedSize)
	p.persist(ctx, req)

	p.notify(ctx, Notification{
		Kind:    NotifyCompleted,
		Request: req,
		Text:    completedText(req),
	})

	if p.organizer == nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		triggerCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		dir := filepath.Dir(req.DestinationPath)
		if err := p.organizer.TriggerScan(triggerCtx, dir); err != nil {
			p.metrics.organizerTriggered(false)
			logger.L().Warnf("%s: id=%s path=%s err=%v", ReasonOrganizerTriggerFailed, req.ID, dir, err)
			return
		}
		p.metrics.organizerTriggered(true)
		logger.L().Infof("Organizer scan triggered: id=%s path=%s", req.ID, dir)
	}()
}

// OnFailed 失败通知，不自动重试
func (p *PostProcessor) OnFailed(ctx context.Context, req *Request) {
	p.metrics.observeOutcome(req)
	p.persist(ctx, req)

	p.notify(ctx, Notification{
		Kind:    NotifyFailed,
		Request: req,
		Text:    fmt.Sprintf("❌ Download failed: %s\nReason: %s", req.Label(), failureReason(req)),
	})
}

// OnRejected 静默原因不通知；TooLarge、LinkResolutionFailed 通知用户
func (p *PostProcessor) OnRejected(ctx context.Context, req *Request) {
	p.metrics.observeOutcome(req)

	if req.Reason.Silent() {
		logger.L().Debugf("Request rejected: id=%s file=%s reason=%s", req.ID, req.Label(), req.Reason)
		return
	}

	logger.L().Infof("Request rejected: id=%s file=%s reason=%s detail=%s", req.ID, req.Label(), req.Reason, req.Detail)

	var text string
	switch req.Reason {
	case ReasonTooLarge:
		text = fmt.Sprintf("⚠️ Skipped %s: file too large (%s)", req.Label(), FormatBytes(req.DeclaredSize))
	case ReasonLinkResolutionFailed:
		text = fmt.Sprintf("⚠️ Could not resolve link %s", req.Label())
	default:
		text = fmt.Sprintf("⚠️ Skipped %s: %s", req.Label(), req.Reason)
	}

	p.notify(ctx, Notification{Kind: NotifyRejected, Request: req, Text: text})
}

// Wait 等待进行中的整理触发结束
func (p *PostProcessor) Wait() {
	p.wg.Wait()
}

func (p *PostProcessor) notify(ctx context.Context, n Notification) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		logger.L().Warnf("Failed to send %s notification for %s: %v", n.Kind, n.Request.ID, err)
	}
}

func (p *PostProcessor) persist(ctx context.Context, req *Request) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveOutcome(ctx, req); err != nil {
		logger.L().Errorf("Failed to save outcome for %s: %v", req.ID, err)
	}
}

func completedText(req *Request) string {
	source := req.ChatUsername
	if source != "" {
		source = "@" + strings.TrimPrefix(source, "@")
	} else {
		source = fmt.Sprintf("%d", req.ChatID)
	}
	return fmt.Sprintf("✅ Downloaded: %s\nSize: %s\nChat: %s", req.FileName, FormatBytes(req.CompletedSize), source)
}

func failureReason(req *Request) string {
	if req.Detail == "" {
		return string(req.Reason)
	}
	return fmt.Sprintf("%s (%s)", req.Reason, req.Detail)
}

// FormatBytes 将字节数格式化为易读形式
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
