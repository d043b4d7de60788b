package service

import (
	"context"
	"fmt"
	"image"

	"github.com/ignacio-urrutia/ImageEditor/config"
)

// Point 前景提示点（像素坐标）
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Segmenter 分割模型：为一张图片构建预测上下文（开销大）
type Segmenter interface {
	NewContext(ctx context.Context, img image.Image) (PredictorContext, error)
}

// PredictorContext 绑定到某张图片像素的预测上下文
//
// Predict 对一组前景点返回按模型置信度排序的候选掩码，尺寸与图片一致。
type PredictorContext interface {
	Predict(ctx context.Context, points []Point) ([]*image.Alpha, error)
}

// NewSegmenter 按配置选择分割后端
func NewSegmenter(cfg *config.SegmentationConfig) (Segmenter, error) {
	switch cfg.Backend {
	case "sam":
		return NewSAMSegmenter(cfg.Endpoint, nil), nil
	case "local":
		return newLocalSegmenter(), nil
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", cfg.Backend)
	}
}

func pointsInBounds(points []Point, b image.Rectangle) error {
	for _, p := range points {
		if p.X < 0 || p.Y < 0 || p.X >= b.Dx() || p.Y >= b.Dy() {
			return fmt.Errorf("%w: point (%d,%d) outside %dx%d image",
				ErrInvalidInput, p.X, p.Y, b.Dx(), b.Dy())
		}
	}
	return nil
}
