package service

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposite_KeepsMaskedPixelsOnly(t *testing.T) {
	img := gradientImage(8, 6)
	mask := rectMask(8, 6, image.Rect(2, 1, 5, 4))

	out, err := Composite(img, mask)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), out.Bounds())

	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			if (image.Point{X: x, Y: y}).In(image.Rect(2, 1, 5, 4)) {
				assert.Equal(t, img.NRGBAAt(x, y), out.NRGBAAt(x, y))
			} else {
				assert.Equal(t, uint8(0), out.NRGBAAt(x, y).A, "pixel (%d,%d) should be transparent", x, y)
			}
		}
	}
}

func TestComposite_DimensionMismatch(t *testing.T) {
	_, err := Composite(gradientImage(4, 4), NewMask(3, 4))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompositeAndSubtract_Complementary(t *testing.T) {
	img := gradientImage(10, 10)
	mask := rectMask(10, 10, image.Rect(0, 0, 4, 7))

	kept, err := Composite(img, mask)
	require.NoError(t, err)
	removed, err := Subtract(img, mask)
	require.NoError(t, err)

	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			a, b := kept.NRGBAAt(x, y), removed.NRGBAAt(x, y)
			// 每个像素恰好出现在其中一边
			assert.True(t, (a.A == 0) != (b.A == 0), "pixel (%d,%d)", x, y)
			if a.A != 0 {
				assert.Equal(t, img.NRGBAAt(x, y), a)
			} else {
				assert.Equal(t, img.NRGBAAt(x, y), b)
			}
		}
	}
}

func TestComposite_ThresholdAndOffsetBounds(t *testing.T) {
	img := gradientImage(2, 1)
	// 原点不在 (0,0) 的掩码
	mask := image.NewAlpha(image.Rect(5, 5, 7, 6))
	mask.SetAlpha(5, 5, color.Alpha{A: 0x7f})
	mask.SetAlpha(6, 5, color.Alpha{A: 0x80})

	out, err := Composite(img, mask)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
	assert.Equal(t, img.NRGBAAt(1, 0), out.NRGBAAt(1, 0))
}

func TestEncodePNG_Deterministic(t *testing.T) {
	img := gradientImage(16, 16)
	mask := rectMask(16, 16, image.Rect(3, 3, 9, 12))

	first, err := Composite(img, mask)
	require.NoError(t, err)
	second, err := Composite(img, mask)
	require.NoError(t, err)

	a, err := EncodePNG(first)
	require.NoError(t, err)
	b, err := EncodePNG(second)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestDilate(t *testing.T) {
	mask := NewMask(9, 9)
	mask.SetAlpha(4, 4, color.Alpha{A: 255})

	t.Run("zero passes copies", func(t *testing.T) {
		out := Dilate(mask, 0)
		assert.Equal(t, mask.Pix, out.Pix)
		assert.NotSame(t, mask, out)
	})

	t.Run("each pass grows by one pixel", func(t *testing.T) {
		out := Dilate(mask, 2)
		for y := 0; y < 9; y++ {
			for x := 0; x < 9; x++ {
				inside := x >= 2 && x <= 6 && y >= 2 && y <= 6
				assert.Equal(t, inside, out.AlphaAt(x, y).A == 255, "pixel (%d,%d)", x, y)
			}
		}
	})

	t.Run("clipped at borders", func(t *testing.T) {
		edge := NewMask(3, 3)
		edge.SetAlpha(0, 0, color.Alpha{A: 255})
		out := Dilate(edge, 1)
		assert.Equal(t, uint8(255), out.AlphaAt(1, 1).A)
		assert.Equal(t, uint8(0), out.AlphaAt(2, 2).A)
	})

	t.Run("never shrinks", func(t *testing.T) {
		full := rectMask(5, 5, image.Rect(0, 0, 5, 5))
		out := Dilate(full, 3)
		for _, v := range out.Pix {
			assert.Equal(t, uint8(255), v)
		}
	})
}

func TestMaskPNG_RoundTrip(t *testing.T) {
	mask := rectMask(6, 4, image.Rect(1, 1, 3, 3))
	mask.SetAlpha(5, 3, color.Alpha{A: 0x90})

	data, err := EncodeMaskPNG(mask)
	require.NoError(t, err)
	decoded, err := DecodeMask(data)
	require.NoError(t, err)

	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			want := uint8(0)
			if mask.AlphaAt(x, y).A >= maskThreshold {
				want = 255
			}
			assert.Equal(t, want, decoded.AlphaAt(x, y).A, "pixel (%d,%d)", x, y)
		}
	}
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradientImage(5, 3), nil))

	img, format, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 5, img.Bounds().Dx())

	_, _, err = DecodeImage([]byte("not an image"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestToNRGBA_NormalizesOrigin(t *testing.T) {
	src := gradientImage(6, 6).SubImage(image.Rect(2, 2, 5, 4)).(*image.NRGBA)
	out := ToNRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 3, 2), out.Bounds())
	assert.Equal(t, src.NRGBAAt(2, 2), out.NRGBAAt(0, 0))
	assert.Equal(t, src.NRGBAAt(4, 3), out.NRGBAAt(2, 1))
}
