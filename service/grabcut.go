//go:build gocv

package service

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"time"

	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func newLocalSegmenter() Segmenter {
	return NewGrabCutSegmenter()
}

// grabCutCandidate 一个候选掩码的参数，切片顺序即排名
type grabCutCandidate struct {
	iterations int
	seedRadius int
	kernelSize int
}

var grabCutCandidates = []grabCutCandidate{
	{iterations: 5, seedRadius: 8, kernelSize: 3},
	{iterations: 3, seedRadius: 4, kernelSize: 3},
	{iterations: 8, seedRadius: 16, kernelSize: 5},
}

// GrabCutSegmenter 使用 OpenCV GrabCut，以提示点为确定前景种子
type GrabCutSegmenter struct {
	candidates    []grabCutCandidate
	maskProcessor *MaskProcessor
}

func NewGrabCutSegmenter() *GrabCutSegmenter {
	return &GrabCutSegmenter{
		candidates:    grabCutCandidates,
		maskProcessor: NewMaskProcessor(),
	}
}

func (s *GrabCutSegmenter) NewContext(ctx context.Context, img image.Image) (PredictorContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("%w: convert image: %w", ErrModelFailure, err)
	}
	c := &grabCutContext{img: mat, segmenter: s}
	runtime.SetFinalizer(c, func(c *grabCutContext) { c.img.Close() })
	return c, nil
}

type grabCutContext struct {
	img       gocv.Mat
	segmenter *GrabCutSegmenter
}

func (c *grabCutContext) Predict(ctx context.Context, points []Point) ([]*image.Alpha, error) {
	bounds := image.Rect(0, 0, c.img.Cols(), c.img.Rows())
	if err := pointsInBounds(points, bounds); err != nil {
		return nil, err
	}

	startTime := time.Now()
	masks := make([]*image.Alpha, 0, len(c.segmenter.candidates))
	for _, cand := range c.segmenter.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		masks = append(masks, c.run(points, cand))
	}

	utils.Logger.Debug("grabcut predicted",
		zap.Int("points", len(points)),
		zap.Int("masks", len(masks)),
		zap.Duration("duration", time.Since(startTime)))
	return masks, nil
}

func (c *grabCutContext) run(points []Point, cand grabCutCandidate) *image.Alpha {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(gcPrBgd, 0, 0, 0), c.img.Rows(), c.img.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()

	// 单通道 Mat 取 color.RGBA 的 B 分量
	seed := color.RGBA{B: gcFgd}
	for _, p := range points {
		gocv.Circle(&mask, image.Pt(p.X, p.Y), cand.seedRadius, seed, -1)
	}

	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	gocv.GrabCut(c.img, &mask, image.Rectangle{}, &bgdModel, &fgdModel, cand.iterations, gocv.GCInitWithMask)

	fgMask := c.segmenter.maskProcessor.ExtractForeground(&mask)
	defer fgMask.Close()

	optimized := c.segmenter.maskProcessor.MorphologyOptimize(&fgMask, cand.kernelSize)
	defer optimized.Close()

	largest := c.segmenter.maskProcessor.KeepLargest(&optimized)
	defer largest.Close()

	return c.segmenter.maskProcessor.ToAlpha(&largest)
}
