package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tg_downloader/internal/logger"
)

// Config 下载引擎配置
type Config struct {
	Workers      int // 并发上限 K
	IntakeBuffer int // 事件与候选通道容量
	Intake       IntakeConfig
	Filter       FilterConfig
	PostProcess  PostProcessorConfig
}

// Deps 引擎依赖的外部协作方
type Deps struct {
	Fetcher   MessageFetcher
	Source    ContentSource
	Notifier  Notifier
	Organizer Organizer // 可为 nil
	Store     OutcomeStore
	Metrics   *Metrics
	Stat      StatFunc
}

// CompletedOutcome 已持久化的完成记录
type CompletedOutcome struct {
	ID   RequestID
	Size int64
	Path string
}

// Stats 引擎运行状态
type Stats struct {
	Scheduler SchedulerStats
	Tracker   TrackerStats
}

// Engine 下载编排引擎
// 两个生产协程（表情回应、链接消息）把候选写入同一个有界通道，由准入循环消费
type Engine struct {
	intake    *Intake
	filter    *Filter
	tracker   *Tracker
	scheduler *Scheduler
	transfer  *Transfer
	post      *PostProcessor
	metrics   *Metrics

	reactions  chan ReactionEvent
	links      chan LinkPostEvent
	candidates chan []*Request

	newAttemptID func() string
	nowFunc      func() time.Time
}

// New 创建下载引擎
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("message fetcher cannot be nil")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("content source cannot be nil")
	}
	if cfg.Filter.DownloadDir == "" {
		return nil, fmt.Errorf("download directory cannot be empty")
	}

	buffer := cfg.IntakeBuffer
	if buffer <= 0 {
		buffer = 256
	}

	tracker := NewTracker()
	e := &Engine{
		intake:       NewIntake(cfg.Intake, deps.Fetcher),
		filter:       NewFilter(cfg.Filter, tracker, deps.Stat),
		tracker:      tracker,
		transfer:     NewTransfer(deps.Source, cfg.Filter.MaxFileSize, deps.Metrics),
		post:         NewPostProcessor(cfg.PostProcess, deps.Notifier, deps.Organizer, deps.Store, deps.Metrics),
		metrics:      deps.Metrics,
		reactions:    make(chan ReactionEvent, buffer),
		links:        make(chan LinkPostEvent, buffer),
		candidates:   make(chan []*Request, buffer),
		newAttemptID: func() string { return uuid.New().String() },
		nowFunc:      time.Now,
	}
	e.scheduler = NewScheduler(cfg.Workers, e.execute, e.recoverTask)

	return e, nil
}

// SubmitReaction 接收表情回应事件
func (e *Engine) SubmitReaction(ctx context.Context, ev ReactionEvent) error {
	select {
	case e.reactions <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitLinkPost 接收链接频道消息
func (e *Engine) SubmitLinkPost(ctx context.Context, ev LinkPostEvent) error {
	select {
	case e.links <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MonitorsChat 聊天是否在白名单内
func (e *Engine) MonitorsChat(chatID int64, username string) bool {
	return e.filter.MonitorsChat(chatID, username)
}

// Restore 恢复持久化的完成记录，使去重在重启后依然有效
func (e *Engine) Restore(outcomes []CompletedOutcome) {
	for _, o := range outcomes {
		e.tracker.Restore(o.ID, o.Size, o.Path)
	}
	logger.L().Infof("Restored %d completed downloads", len(outcomes))
}

// Stats 返回引擎状态
func (e *Engine) Stats() Stats {
	return Stats{
		Scheduler: e.scheduler.Stats(),
		Tracker:   e.tracker.Stats(),
	}
}

// Run 运行引擎直到 ctx 取消
// 单个请求的任何失败都不会让循环退出
func (e *Engine) Run(ctx context.Context) error {
	e.scheduler.Start(ctx)

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		e.produceReactions(ctx)
	}()
	go func() {
		defer producers.Done()
		e.produceLinks(ctx)
	}()

	logger.L().Info("Download engine started")

	for {
		select {
		case <-ctx.Done():
			producers.Wait()
			for _, req := range e.scheduler.Shutdown() {
				e.tracker.Release(req.ID)
			}
			e.post.Wait()
			logger.L().Info("Download engine stopped")
			return nil
		case batch := <-e.candidates:
			e.admit(ctx, batch)
		}
	}
}

func (e *Engine) produceReactions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.reactions:
			batch := e.intake.FromReaction(ctx, ev)
			if len(batch) == 0 {
				continue
			}
			if !e.emit(ctx, batch) {
				return
			}
		}
	}
}

func (e *Engine) produceLinks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.links:
			for _, batch := range e.intake.FromLinkPost(ctx, ev) {
				if !e.emit(ctx, batch) {
					return
				}
			}
		}
	}
}

func (e *Engine) emit(ctx context.Context, batch []*Request) bool {
	select {
	case e.candidates <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// admit 过滤一批候选，通过的整批进入调度队列
func (e *Engine) admit(ctx context.Context, batch []*Request) {
	admitted, rejected := e.filter.AdmitBatch(batch)

	for _, req := range rejected {
		e.post.OnRejected(ctx, req)
	}
	if len(admitted) == 0 {
		return
	}

	for _, req := range admitted {
		logger.L().Infof("Request admitted: id=%s file=%s size=%s group=%q",
			req.ID, req.FileName, FormatBytes(req.DeclaredSize), req.MediaGroupID)
	}

	if err := e.scheduler.Submit(admitted...); err != nil {
		logger.L().Warnf("Failed to enqueue %d requests: %v", len(admitted), err)
		for _, req := range admitted {
			e.tracker.Release(req.ID)
		}
		return
	}
	e.metrics.setQueueLength(e.scheduler.Stats().QueueLength)
}

// execute 工作协程中执行单个请求
func (e *Engine) execute(ctx context.Context, req *Request) {
	e.metrics.setQueueLength(e.scheduler.Stats().QueueLength)

	if err := e.tracker.MarkInProgress(req.ID); err != nil {
		logger.L().Errorf("Failed to start request: %v", err)
		return
	}
	if err := req.start(e.newAttemptID(), e.nowFunc()); err != nil {
		logger.L().Errorf("Failed to start request: %v", err)
		e.tracker.MarkFailed(req.ID)
		return
	}

	logger.L().Infof("Downloading: %s (%s) id=%s attempt=%s", req.Label(), FormatBytes(req.DeclaredSize), req.ID, req.AttemptID)

	outcome := StateFailed
	started := e.nowFunc()
	e.metrics.transferStarted()
	defer func() {
		e.metrics.transferFinished(outcome, time.Since(started).Seconds())
	}()

	// 停机时传输会被取消，但通知和记录仍需发出
	postCtx := context.WithoutCancel(ctx)

	size, err := e.transfer.Run(ctx, req)
	if err != nil {
		_ = req.fail(ReasonOf(err), detailOf(err), e.nowFunc())
		e.tracker.MarkFailed(req.ID)
		logger.L().Errorf("Download failed: id=%s file=%s reason=%s err=%v", req.ID, req.Label(), req.Reason, err)
		e.post.OnFailed(postCtx, req)
		return
	}

	outcome = StateCompleted
	_ = req.complete(size, e.nowFunc())
	e.tracker.MarkCompleted(req.ID, size)
	logger.L().Infof("✓ Downloaded successfully: %s (%s) id=%s", req.Label(), FormatBytes(size), req.ID)
	e.post.OnCompleted(postCtx, req)
}

// recoverTask 任务 panic 后把请求置为失败，保证循环继续运行
func (e *Engine) recoverTask(req *Request, recovered interface{}) {
	switch req.State {
	case StateInProgress:
		_ = req.fail(ReasonTransferInterrupted, fmt.Sprintf("panic: %v", recovered), e.nowFunc())
		e.tracker.MarkFailed(req.ID)
		e.post.OnFailed(context.Background(), req)
	case StateAdmitted:
		e.tracker.Release(req.ID)
	}
}

func detailOf(err error) string {
	var reasonErr *Error
	if errors.As(err, &reasonErr) && reasonErr.Err != nil {
		return reasonErr.Err.Error()
	}
	return err.Error()
}
