// Package retry 提供有界重试、无界重试和调用节流三个组合器。
// 次数和间隔全部由调用方传入，测试时可以注入接近 0 的延迟。
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrExhausted 重试次数用尽
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy 有界重试策略
type Policy struct {
	Attempts int
	Delay    time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记不值得重试的错误，Do 遇到后立即返回原错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 最多执行 p.Attempts 次 fn，每次失败后等待 p.Delay。
// 返回值同时匹配 ErrExhausted 和最后一次的错误；fn 返回 Permanent 错误时不再重试
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		if last = fn(i); last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		if err := Sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

// Forever 一直重试直到成功，只有 ctx 被取消（进程退出）才会返回错误
func Forever(ctx context.Context, delay time.Duration, fn func(attempt int) error, onError func(attempt int, err error)) error {
	for i := 1; ; i++ {
		err := fn(i)
		if err == nil {
			return nil
		}
		if onError != nil {
			onError(i, err)
		}
		if serr := Sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%w (last error: %v)", serr, err)
		}
	}
}

// Sleep 可被 ctx 打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer 保证相邻两次交易所调用之间至少间隔 interval
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer interval <= 0 时不做限制
func NewPacer(interval time.Duration) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait 阻塞到下一个调用时间片
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
