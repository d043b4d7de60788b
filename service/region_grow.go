package service

import (
	"context"
	"image"
)

// regionTolerances 每个容差产生一个候选掩码，顺序即排名
var regionTolerances = []int{32, 16, 64}

// RegionGrowSegmenter 无模型的本地后端：从提示点按颜色相近度做种子区域生长
type RegionGrowSegmenter struct {
	tolerances []int
}

func NewRegionGrowSegmenter() *RegionGrowSegmenter {
	return &RegionGrowSegmenter{tolerances: regionTolerances}
}

func (s *RegionGrowSegmenter) NewContext(ctx context.Context, img image.Image) (PredictorContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &regionGrowContext{pixels: ToNRGBA(img), tolerances: s.tolerances}, nil
}

type regionGrowContext struct {
	pixels     *image.NRGBA
	tolerances []int
}

func (c *regionGrowContext) Predict(ctx context.Context, points []Point) ([]*image.Alpha, error) {
	if err := pointsInBounds(points, c.pixels.Rect); err != nil {
		return nil, err
	}
	masks := make([]*image.Alpha, 0, len(c.tolerances))
	for _, tol := range c.tolerances {
		mask, err := c.grow(ctx, points, tol)
		if err != nil {
			return nil, err
		}
		masks = append(masks, mask)
	}
	return masks, nil
}

// grow 4 邻域洪泛，与种子像素各通道差值都不超过 tol 的像素加入区域
func (c *regionGrowContext) grow(ctx context.Context, points []Point, tol int) (*image.Alpha, error) {
	w, h := c.pixels.Rect.Dx(), c.pixels.Rect.Dy()
	mask := NewMask(w, h)
	visited := make([]bool, w*h)
	queue := make([]int, 0, 1024)

	for _, p := range points {
		for i := range visited {
			visited[i] = false
		}
		seed := c.pixels.PixOffset(p.X, p.Y)
		ref := c.pixels.Pix[seed : seed+4]

		start := p.Y*w + p.X
		visited[start] = true
		queue = append(queue[:0], start)
		for n := 0; len(queue) > 0; n++ {
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			mask.Pix[idx] = 255

			x, y := idx%w, idx/w
			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := nb[0], nb[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if visited[ni] {
					continue
				}
				visited[ni] = true
				if similar(c.pixels.Pix[4*ni:4*ni+4], ref, tol) {
					queue = append(queue, ni)
				}
			}
		}
	}
	return mask, nil
}

func similar(a, b []uint8, tol int) bool {
	for i := 0; i < 4; i++ {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > tol {
			return false
		}
	}
	return true
}
