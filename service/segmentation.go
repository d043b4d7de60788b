package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// SegmentationPipeline 提示点 -> 排序掩码 -> 膨胀 -> 抠图，整轮覆盖写入
type SegmentationPipeline struct {
	store          *Store
	cache          *PredictorCache
	masks          MaskCache
	maskScope      string
	dilatePasses   int
	predictTimeout time.Duration
}

// NewSegmentationPipeline masks 可以为 nil（不使用掩码缓存）
func NewSegmentationPipeline(store *Store, cache *PredictorCache, masks MaskCache, cfg *config.SegmentationConfig) *SegmentationPipeline {
	return &SegmentationPipeline{
		store:          store,
		cache:          cache,
		masks:          masks,
		maskScope:      fmt.Sprintf("%s:d%d", cfg.Backend, cfg.DilatePasses),
		dilatePasses:   cfg.DilatePasses,
		predictTimeout: cfg.PredictTimeout,
	}
}

// Segment 对工作区主图执行一轮分割，返回的产物顺序与模型排名一致
func (p *SegmentationPipeline) Segment(ctx context.Context, id int64, points []Point) ([]Artifact, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: points must not be empty", ErrInvalidInput)
	}

	unlock := p.store.LockRound(id, KindSegmentation)
	defer unlock()

	startTime := time.Now()
	img, primary, err := p.readPrimary(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pointsInBounds(points, img.Bounds()); err != nil {
		return nil, err
	}

	masks := p.cachedMasks(ctx, primary.Checksum, points)
	if masks == nil {
		masks, err = p.predict(ctx, id, img, primary.Checksum, points)
		if err != nil {
			return nil, err
		}
		p.storeMasks(ctx, primary.Checksum, points, masks)
	}

	files := make([]ArtifactFile, 0, 2*len(masks))
	artifacts := make([]Artifact, 0, len(masks))
	for i, mask := range masks {
		composite, err := Composite(img, mask)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelFailure, err)
		}
		maskPNG, err := EncodeMaskPNG(mask)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		compositePNG, err := EncodePNG(composite)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		files = append(files,
			ArtifactFile{Name: MaskName(i), Data: maskPNG},
			ArtifactFile{Name: CompositeName(i), Data: compositePNG})
		artifacts = append(artifacts, Artifact{Index: i, Kind: KindSegmentation, Name: CompositeName(i)})
	}

	if err := p.store.CommitArtifacts(id, KindSegmentation, files); err != nil {
		return nil, err
	}

	utils.Logger.Info("segmentation completed",
		zap.Int64("workspace_id", id),
		zap.Int("points", len(points)),
		zap.Int("masks", len(masks)),
		zap.Duration("duration", time.Since(startTime)))
	return artifacts, nil
}

// Warm 提前构建预测上下文（上传后后台调用）
func (p *SegmentationPipeline) Warm(ctx context.Context, id int64) error {
	_, err := p.cache.GetOrCreate(ctx, id, p.loader(id, "", nil))
	return err
}

func (p *SegmentationPipeline) readPrimary(ctx context.Context, id int64) (image.Image, *PrimaryImage, error) {
	data, primary, err := p.store.ReadPrimaryImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}
	return img, primary, nil
}

// loader 构建时若主图未变则复用已解码的像素，否则重新读取
func (p *SegmentationPipeline) loader(id int64, checksum string, img image.Image) ImageLoader {
	return func(ctx context.Context) (image.Image, error) {
		if img != nil {
			current, err := p.store.ResolvePrimaryImage(ctx, id)
			if err != nil {
				return nil, err
			}
			if current.Checksum == checksum {
				return img, nil
			}
		}
		fresh, _, err := p.readPrimary(ctx, id)
		return fresh, err
	}
}

func (p *SegmentationPipeline) predict(ctx context.Context, id int64, img image.Image, checksum string, points []Point) ([]*image.Alpha, error) {
	if p.predictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.predictTimeout)
		defer cancel()
	}

	pc, err := p.cache.GetOrCreate(ctx, id, p.loader(id, checksum, img))
	if err != nil {
		return nil, err
	}

	raw, err := pc.Predict(ctx, points)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		wrapped := fmt.Errorf("%w: predict: %w", ErrModelFailure, err)
		if IsRetryable(err) {
			return nil, Retryable(wrapped)
		}
		return nil, wrapped
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: model returned no masks", ErrModelFailure)
	}

	b := img.Bounds()
	masks := make([]*image.Alpha, len(raw))
	for i, m := range raw {
		if m.Bounds().Dx() != b.Dx() || m.Bounds().Dy() != b.Dy() {
			return nil, fmt.Errorf("%w: mask %d is %dx%d, image is %dx%d",
				ErrModelFailure, i, m.Bounds().Dx(), m.Bounds().Dy(), b.Dx(), b.Dy())
		}
		masks[i] = Dilate(m, p.dilatePasses)
	}
	return masks, nil
}

func (p *SegmentationPipeline) cachedMasks(ctx context.Context, checksum string, points []Point) []*image.Alpha {
	if p.masks == nil || checksum == "" {
		return nil
	}
	masks, err := p.masks.GetMasks(ctx, p.maskScope, checksum, points)
	if err != nil {
		utils.Logger.Warn("failed to get cached masks", zap.Error(err))
		return nil
	}
	if len(masks) == 0 {
		return nil
	}
	utils.Logger.Info("mask cache hit", zap.String("checksum", checksum))
	return masks
}

func (p *SegmentationPipeline) storeMasks(ctx context.Context, checksum string, points []Point, masks []*image.Alpha) {
	if p.masks == nil || checksum == "" {
		return
	}
	if err := p.masks.SetMasks(ctx, p.maskScope, checksum, points, masks); err != nil {
		utils.Logger.Warn("failed to set cached masks", zap.Error(err))
	}
}
