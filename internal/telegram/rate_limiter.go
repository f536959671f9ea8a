package telegram

import (
	"context"
	"sync"
	"time"
)

// 通知发送速率，低于 Bot API 的全局 30 条/秒限制
const notifyRatePerSecond = 20

// RateLimiter Token Bucket 速率限制器
type RateLimiter struct {
	tokens    chan struct{}
	stopCh    chan struct{}
	interval  time.Duration
	closeOnce sync.Once
}

// NewRateLimiter 创建速率限制器
// ratePerSecond: 每秒允许的请求数，同时也是突发上限
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	limiter := &RateLimiter{
		tokens:   make(chan struct{}, ratePerSecond),
		stopCh:   make(chan struct{}),
		interval: time.Second / time.Duration(ratePerSecond),
	}

	for i := 0; i < ratePerSecond; i++ {
		limiter.tokens <- struct{}{}
	}

	go limiter.refill()
	return limiter
}

// Wait 阻塞直到拿到令牌或 ctx 取消；nil 限制器不限速
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.tokens:
		return nil
	}
}

func (r *RateLimiter) refill() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			select {
			case r.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Close 停止补充令牌，可重复调用
func (r *RateLimiter) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() { close(r.stopCh) })
}
