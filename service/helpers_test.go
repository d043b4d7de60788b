package service

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	catalog, err := OpenCatalog(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	store, err := NewStore(filepath.Join(dir, "workspaces"), catalog)
	require.NoError(t, err)
	return store
}

// gradientImage 每个像素颜色不同，便于比较像素级结果
func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func encodeTestPNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := EncodePNG(img)
	require.NoError(t, err)
	return data
}

// newWorkspaceWithImage 创建工作区并写入 w x h 的渐变主图
func newWorkspaceWithImage(t *testing.T, store *Store, w, h int) (int64, []byte) {
	t.Helper()
	ctx := context.Background()
	id, err := store.Create(ctx)
	require.NoError(t, err)
	data := encodeTestPNG(t, gradientImage(w, h))
	require.NoError(t, store.StorePrimaryImage(ctx, id, data, "photo.png"))
	return id, data
}

// rectMask 矩形区域选中的掩码
func rectMask(w, h int, r image.Rectangle) *image.Alpha {
	mask := NewMask(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			mask.SetAlpha(x, y, color.Alpha{A: 255})
		}
	}
	return mask
}

// stubSegmenter 记录构建次数，Predict 返回固定数量的矩形掩码
type stubSegmenter struct {
	builds  atomic.Int32
	gate    chan struct{}
	buildFn func(ctx context.Context, img image.Image) error
	masks   int

	mu       sync.Mutex
	predicts int
}

func (s *stubSegmenter) NewContext(ctx context.Context, img image.Image) (PredictorContext, error) {
	s.builds.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.buildFn != nil {
		if err := s.buildFn(ctx, img); err != nil {
			return nil, err
		}
	}
	b := img.Bounds()
	return &stubContext{segmenter: s, w: b.Dx(), h: b.Dy()}, nil
}

type stubContext struct {
	segmenter *stubSegmenter
	w, h      int
}

func (c *stubContext) Predict(ctx context.Context, points []Point) ([]*image.Alpha, error) {
	c.segmenter.mu.Lock()
	c.segmenter.predicts++
	c.segmenter.mu.Unlock()

	n := c.segmenter.masks
	if n == 0 {
		n = 3
	}
	masks := make([]*image.Alpha, n)
	for i := range masks {
		// 第 i 个掩码覆盖左上角 (i+1) 像素宽的方块
		masks[i] = rectMask(c.w, c.h, image.Rect(0, 0, i+1, i+1))
	}
	return masks, nil
}
