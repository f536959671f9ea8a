package telegram

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"tg_downloader/internal/logger"
)

// HandlerTask 待执行的命令
type HandlerTask struct {
	Ctx         context.Context
	BotInstance *bot.Bot
	Update      *botModels.Update
	Handler     bot.HandlerFunc
}

// command 日志中使用的命令文本
func (t HandlerTask) command() string {
	if t.Update != nil && t.Update.Message != nil {
		return t.Update.Message.Text
	}
	return ""
}

// WorkerPoolStats 命令工作池状态
type WorkerPoolStats struct {
	Workers       int
	QueueLength   int
	QueueCapacity int
	Processed     int64
	Dropped       int64
	Panics        int64
}

// WorkerPool 命令工作池
// 命令在独立协程中执行，不占用更新循环
type WorkerPool struct {
	taskQueue chan HandlerTask
	wg        sync.WaitGroup
	workers   int

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool 创建工作池
// workers: 协程数量；queueSize: 排队上限，超出的命令被丢弃
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	pool := &WorkerPool{
		taskQueue: make(chan HandlerTask, queueSize),
		workers:   workers,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Command pool started with %d workers, queue size %d", workers, queueSize)
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskQueue {
		p.run(id, task)
	}

	logger.L().Debugf("Command worker %d stopped", id)
}

func (p *WorkerPool) run(id int, task HandlerTask) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			logger.L().Errorf("Command worker %d: panic recovered in %q: %v", id, task.command(), r)
		}
		p.processed.Add(1)
	}()

	task.Handler(task.Ctx, task.BotInstance, task.Update)
}

// Submit 提交命令；队列已满或已关闭时返回 false
func (p *WorkerPool) Submit(task HandlerTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		p.dropped.Add(1)
		logger.L().Warnf("Command queue is full, dropped %q", task.command())
		return false
	}
}

// Stats 返回工作池状态
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       p.workers,
		QueueLength:   len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
		Processed:     p.processed.Load(),
		Dropped:       p.dropped.Load(),
		Panics:        p.panics.Load(),
	}
}

// Shutdown 停止接收命令并等待排队的命令执行完，可重复调用
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()

	logger.L().Info("Shutting down command pool...")
	p.wg.Wait()
	logger.L().Info("Command pool shut down")
}
