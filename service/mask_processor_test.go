//go:build gocv

package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestMaskProcessor_KeepLargestClearsOtherPixels(t *testing.T) {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 20, 20, gocv.MatTypeCV8U)
	defer mask.Close()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.Rectangle(&mask, image.Rect(1, 1, 4, 4), white, -1)
	gocv.Rectangle(&mask, image.Rect(8, 8, 18, 18), white, -1)

	largest := NewMaskProcessor().KeepLargest(&mask)
	defer largest.Close()

	out := NewMaskProcessor().ToAlpha(&largest)
	assert.Equal(t, uint8(255), out.AlphaAt(12, 12).A)
	assert.Equal(t, uint8(0), out.AlphaAt(2, 2).A, "smaller region removed")
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if x < 8 || y < 8 || x > 17 || y > 17 {
				assert.Equal(t, uint8(0), out.AlphaAt(x, y).A, "pixel (%d,%d)", x, y)
			}
		}
	}
}
