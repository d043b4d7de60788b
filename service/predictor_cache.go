package service

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ImageLoader 延迟提供像素数据，缓存命中时不会被调用
type ImageLoader func(ctx context.Context) (image.Image, error)

// PredictorCache 按工作区ID缓存预测上下文
//
// 同一 (id, generation) 的构建只会发生一次，并发的首次调用方共享结果。
// Invalidate 递增 generation：进行中的旧构建结果不会写入缓存。
type PredictorCache struct {
	segmenter    Segmenter
	entries      *lru.Cache[int64, PredictorContext]
	group        singleflight.Group
	buildTimeout time.Duration

	mu          sync.Mutex
	generations map[int64]uint64
}

func NewPredictorCache(segmenter Segmenter, capacity int, buildTimeout time.Duration) (*PredictorCache, error) {
	entries, err := lru.NewWithEvict[int64, PredictorContext](capacity, func(id int64, _ PredictorContext) {
		utils.Logger.Debug("predictor context evicted", zap.Int64("workspace_id", id))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create predictor cache: %w", err)
	}
	return &PredictorCache{
		segmenter:    segmenter,
		entries:      entries,
		buildTimeout: buildTimeout,
		generations:  make(map[int64]uint64),
	}, nil
}

// GetOrCreate 返回缓存的上下文，不存在时构建并写入
func (c *PredictorCache) GetOrCreate(ctx context.Context, id int64, load ImageLoader) (PredictorContext, error) {
	if pc, ok := c.entries.Get(id); ok {
		return pc, nil
	}

	c.mu.Lock()
	gen := c.generations[id]
	c.mu.Unlock()

	key := fmt.Sprintf("%d:%d", id, gen)
	ch := c.group.DoChan(key, func() (any, error) {
		if pc, ok := c.entries.Get(id); ok {
			return pc, nil
		}
		return c.build(ctx, id, gen, load)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PredictorContext), nil
	case <-ctx.Done():
		return nil, Retryable(fmt.Errorf("%w: waiting for predictor context: %w", ErrModelFailure, ctx.Err()))
	}
}

// build 构建不受单个调用方取消影响，只受 buildTimeout 约束
func (c *PredictorCache) build(ctx context.Context, id int64, gen uint64, load ImageLoader) (PredictorContext, error) {
	buildCtx := context.WithoutCancel(ctx)
	if c.buildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(buildCtx, c.buildTimeout)
		defer cancel()
	}

	img, err := load(buildCtx)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	utils.Logger.Info("initializing predictor", zap.Int64("workspace_id", id))
	pc, err := c.segmenter.NewContext(buildCtx, img)
	if err != nil {
		if IsRetryable(err) {
			return nil, Retryable(fmt.Errorf("%w: build predictor context: %w", ErrModelFailure, err))
		}
		return nil, fmt.Errorf("%w: build predictor context: %w", ErrModelFailure, err)
	}

	c.mu.Lock()
	stale := c.generations[id] != gen
	if !stale {
		c.entries.Add(id, pc)
	}
	c.mu.Unlock()

	utils.Logger.Info("predictor initialized",
		zap.Int64("workspace_id", id),
		zap.Bool("stale", stale),
		zap.Duration("duration", time.Since(startTime)))
	return pc, nil
}

// Invalidate 移除缓存的上下文，主图被替换时必须调用
func (c *PredictorCache) Invalidate(id int64) {
	c.mu.Lock()
	c.generations[id]++
	c.entries.Remove(id)
	c.mu.Unlock()
	utils.Logger.Debug("predictor context invalidated", zap.Int64("workspace_id", id))
}

// Len 当前缓存条目数
func (c *PredictorCache) Len() int {
	return c.entries.Len()
}
