//go:build gocv

package service

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// GrabCut 掩码取值
const (
	gcBgd   = 0
	gcFgd   = 1
	gcPrBgd = 2
	gcPrFgd = 3
)

// MaskProcessor 负责处理 GrabCut 输出的掩码
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// ExtractForeground 提取前景掩码（确定前景 + 可能前景）
func (mp *MaskProcessor) ExtractForeground(mask *gocv.Mat) gocv.Mat {
	fgMask := gocv.NewMat()
	tmp1 := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcFgd}, gocv.MatTypeCV8U)
	defer tmp1.Close()
	gocv.Compare(*mask, tmp1, &fgMask, gocv.CompareEQ)

	fgMaskPr := gocv.NewMat()
	defer fgMaskPr.Close()
	tmp2 := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcPrFgd}, gocv.MatTypeCV8U)
	defer tmp2.Close()
	gocv.Compare(*mask, tmp2, &fgMaskPr, gocv.CompareEQ)

	combined := gocv.NewMat()
	gocv.BitwiseOr(fgMask, fgMaskPr, &combined)
	fgMask.Close()

	return combined
}

// MorphologyOptimize 开运算去噪点，闭运算填小孔
func (mp *MaskProcessor) MorphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}

// KeepLargest 保留掩码中最大的连通区域，返回新的 Mat
func (mp *MaskProcessor) KeepLargest(mask *gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return mask.Clone()
	}

	maxArea := 0.0
	maxIndex := 0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			maxIndex = i
		}
	}

	newMask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.DrawContours(&newMask, contours, maxIndex, white, -1)

	return newMask
}

// ToAlpha 转为 *image.Alpha，非零即选中
func (mp *MaskProcessor) ToAlpha(mask *gocv.Mat) *image.Alpha {
	out := NewMask(mask.Cols(), mask.Rows())
	for y := 0; y < mask.Rows(); y++ {
		for x := 0; x < mask.Cols(); x++ {
			if mask.GetUCharAt(y, x) > 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
