package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maskThreshold alpha 不低于该值视为掩码选中
const maskThreshold = 0x80

// NewMask 创建全空掩码
func NewMask(width, height int) *image.Alpha {
	return image.NewAlpha(image.Rect(0, 0, width, height))
}

// ToNRGBA 转换为原点在 (0,0) 的 NRGBA，NRGBA 输入直接拷贝像素
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*b.Dx()], src.Pix[si:si+4*b.Dx()])
		}
		return dst
	}
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Composite 掩码选中处保留原像素，其余完全透明
func Composite(original image.Image, mask *image.Alpha) (*image.NRGBA, error) {
	src := ToNRGBA(original)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	mb := mask.Bounds()
	if mb.Dx() != w || mb.Dy() != h {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			ErrInvalidInput, mb.Dx(), mb.Dy(), w, h)
	}

	out := image.NewNRGBA(src.Rect)
	for y := 0; y < h; y++ {
		mi := mask.PixOffset(mb.Min.X, mb.Min.Y+y)
		row := y * src.Stride
		for x := 0; x < w; x++ {
			if mask.Pix[mi+x] >= maskThreshold {
				i := row + 4*x
				copy(out.Pix[i:i+4], src.Pix[i:i+4])
			}
		}
	}
	return out, nil
}

// Subtract 保留掩码以外的部分，被移除区域完全透明
func Subtract(original image.Image, mask *image.Alpha) (*image.NRGBA, error) {
	return Composite(original, Invert(mask))
}

// Invert 反转掩码
func Invert(mask *image.Alpha) *image.Alpha {
	out := image.NewAlpha(mask.Bounds())
	for i, a := range mask.Pix {
		out.Pix[i] = 255 - a
	}
	return out
}

// Dilate 3x3 最大值滤波，执行 passes 次；越界邻居不参与
func Dilate(mask *image.Alpha, passes int) *image.Alpha {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	cur := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		si := mask.PixOffset(b.Min.X, b.Min.Y+y)
		copy(cur.Pix[y*cur.Stride:y*cur.Stride+w], mask.Pix[si:si+w])
	}
	if w == 0 || h == 0 {
		return cur
	}

	tmp := image.NewAlpha(cur.Rect)
	for p := 0; p < passes; p++ {
		// 3x3 方形结构元可分解为水平和垂直两次 1x3 最大值
		for y := 0; y < h; y++ {
			row := y * cur.Stride
			for x := 0; x < w; x++ {
				m := cur.Pix[row+x]
				if x > 0 && cur.Pix[row+x-1] > m {
					m = cur.Pix[row+x-1]
				}
				if x < w-1 && cur.Pix[row+x+1] > m {
					m = cur.Pix[row+x+1]
				}
				tmp.Pix[row+x] = m
			}
		}
		for y := 0; y < h; y++ {
			row := y * cur.Stride
			for x := 0; x < w; x++ {
				m := tmp.Pix[row+x]
				if y > 0 && tmp.Pix[row-cur.Stride+x] > m {
					m = tmp.Pix[row-cur.Stride+x]
				}
				if y < h-1 && tmp.Pix[row+cur.Stride+x] > m {
					m = tmp.Pix[row+cur.Stride+x]
				}
				cur.Pix[row+x] = m
			}
		}
	}
	return cur
}

// EncodePNG 确定性 PNG 编码
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeMaskPNG 掩码保存为 0/255 灰度图
func EncodeMaskPNG(mask *image.Alpha) ([]byte, error) {
	b := mask.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		mi := mask.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[mi+x] >= maskThreshold {
				gray.Pix[y*gray.Stride+x] = 255
			}
		}
	}
	return EncodePNG(gray)
}

// DecodeImage 解码已注册格式的图片
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode image: %w", ErrInvalidInput, err)
	}
	return img, format, nil
}

// DecodeMask 解码掩码图片，按亮度二值化
func DecodeMask(data []byte) (*image.Alpha, error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return ToMask(img), nil
}

// ToMask 将任意图片按亮度（Alpha 图按透明度）二值化为掩码
func ToMask(img image.Image) *image.Alpha {
	b := img.Bounds()
	mask := NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var v uint8
			switch m := img.(type) {
			case *image.Alpha:
				v = m.AlphaAt(b.Min.X+x, b.Min.Y+y).A
			case *image.Gray:
				v = m.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			default:
				v = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
			if v >= maskThreshold {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	return mask
}
