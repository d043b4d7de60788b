//go:build !gocv

package service

func newLocalSegmenter() Segmenter {
	return NewRegionGrowSegmenter()
}
