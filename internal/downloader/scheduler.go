package downloader

import (
	"context"
	"sync"

	"tg_downloader/internal/logger"
)

// TaskFunc 在工作协程中执行单个已准入的请求
type TaskFunc func(ctx context.Context, req *Request)

// PanicFunc 任务 panic 后的回调
type PanicFunc func(req *Request, recovered interface{})

// Scheduler 有界并发的工作池
// 最多 workers 个请求同时执行，其余按到达顺序排队，队列不设上限
type Scheduler struct {
	workers int
	task    TaskFunc
	onPanic PanicFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Request
	active int
	closed bool

	wg sync.WaitGroup
}

// SchedulerStats 工作池状态
type SchedulerStats struct {
	Workers     int
	Active      int
	QueueLength int
}

// NewScheduler 创建工作池
// workers: 并发上限 K
func NewScheduler(workers int, task TaskFunc, onPanic PanicFunc) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		workers: workers,
		task:    task,
		onPanic: onPanic,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start 启动 worker 协程
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	logger.L().Infof("Download scheduler started with %d workers", s.workers)
}

// Submit 将一批请求原子地追加到队尾
func (s *Scheduler) Submit(batch ...*Request) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrEngineStopped
	}
	s.queue = append(s.queue, batch...)
	s.cond.Broadcast()
	return nil
}

// next 阻塞直到有排队请求或工作池关闭
func (s *Scheduler) next() (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, false
	}

	req := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.active++
	return req, true
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// worker 工作协程
func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	logger.L().Debugf("Download worker %d started", id)

	for {
		req, ok := s.next()
		if !ok {
			break
		}

		// 执行任务，带 panic recovery
		func() {
			defer s.done()
			defer func() {
				if r := recover(); r != nil {
					logger.L().Errorf("Download worker %d: task panic recovered: id=%s err=%v", id, req.ID, r)
					if s.onPanic != nil {
						s.onPanic(req, r)
					}
				}
			}()

			s.task(ctx, req)
		}()
	}

	logger.L().Debugf("Download worker %d stopped", id)
}

// Stats 返回工作池状态
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		Workers:     s.workers,
		Active:      s.active,
		QueueLength: len(s.queue),
	}
}

// Shutdown 停止接收新请求，等待正在执行的任务结束
// 返回尚未开始执行的排队请求
func (s *Scheduler) Shutdown() []*Request {
	logger.L().Info("Shutting down download scheduler...")

	s.mu.Lock()
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()

	logger.L().Infof("Download scheduler shut down, %d queued requests dropped", len(pending))
	return pending
}
