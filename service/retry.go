package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// RetryPolicy 对可重试错误做有限次指数退避重试
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
}

// Do 执行 op，不可重试的错误立即返回
func (p RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		utils.Logger.Warn("retrying after transient failure",
			zap.String("operation", name),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
}
