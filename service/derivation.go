package service

import (
	"context"
	"fmt"

	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// derivedFilename 派生工作区主图统一使用的文件名
const derivedFilename = "image.png"

// Derivation 从已有产物派生新的工作区，源工作区保持不变
type Derivation struct {
	store *Store
}

func NewDerivation(store *Store) *Derivation {
	return &Derivation{store: store}
}

// FromMask 以第 n 个抠图结果作为新工作区的主图
func (d *Derivation) FromMask(ctx context.Context, id int64, n int) (int64, error) {
	return d.copyArtifact(ctx, id, KindSegmentation, n, CompositeName)
}

// FromEdit 以第 n 个编辑变体作为新工作区的主图
func (d *Derivation) FromEdit(ctx context.Context, id int64, n int) (int64, error) {
	return d.copyArtifact(ctx, id, KindEdit, n, VariantName)
}

// ByRemoval 从主图中去掉第 n 个掩码覆盖的区域
func (d *Derivation) ByRemoval(ctx context.Context, id int64, n int) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: mask index %d", ErrNotFound, n)
	}
	maskData, err := d.store.ReadArtifact(id, KindSegmentation, MaskName(n))
	if err != nil {
		return 0, err
	}
	primaryData, _, err := d.store.ReadPrimaryImage(ctx, id)
	if err != nil {
		return 0, err
	}

	original, _, err := DecodeImage(primaryData)
	if err != nil {
		return 0, fmt.Errorf("%w: primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}
	mask, err := DecodeMask(maskData)
	if err != nil {
		return 0, fmt.Errorf("%w: mask %d of workspace %d: %w", ErrStorageFailure, n, id, err)
	}
	// 掩码来自上一轮，之后主图可能已被替换
	removed, err := Subtract(original, mask)
	if err != nil {
		return 0, err
	}
	encoded, err := EncodePNG(removed)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return d.derive(ctx, id, "removal", encoded)
}

func (d *Derivation) copyArtifact(ctx context.Context, id int64, kind ArtifactKind, n int, name func(int) string) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %s index %d", ErrNotFound, kind, n)
	}
	data, err := d.store.ReadArtifact(id, kind, name(n))
	if err != nil {
		return 0, err
	}
	return d.derive(ctx, id, string(kind), data)
}

func (d *Derivation) derive(ctx context.Context, source int64, from string, data []byte) (int64, error) {
	id, err := d.store.Create(ctx)
	if err != nil {
		return 0, err
	}
	if err := d.store.StorePrimaryImage(ctx, id, data, derivedFilename); err != nil {
		return 0, err
	}
	utils.Logger.Info("workspace derived",
		zap.Int64("source_id", source),
		zap.Int64("workspace_id", id),
		zap.String("from", from))
	return id, nil
}
