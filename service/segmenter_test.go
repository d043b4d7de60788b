package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSegmenter(t *testing.T) {
	seg, err := NewSegmenter(&config.SegmentationConfig{Backend: "sam", Endpoint: "http://sam:8000/"})
	require.NoError(t, err)
	sam, ok := seg.(*SAMSegmenter)
	require.True(t, ok)
	assert.Equal(t, "http://sam:8000", sam.endpoint)

	seg, err = NewSegmenter(&config.SegmentationConfig{Backend: "local"})
	require.NoError(t, err)
	assert.NotNil(t, seg)

	_, err = NewSegmenter(&config.SegmentationConfig{Backend: "gpu"})
	assert.Error(t, err)
}

func TestSAMSegmenter(t *testing.T) {
	maskPNG, err := EncodeMaskPNG(rectMask(5, 4, image.Rect(1, 1, 3, 3)))
	require.NoError(t, err)

	var (
		mu           sync.Mutex
		embedCalls   int
		predictCalls int
		lastPredict  predictRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/embeddings":
			embedCalls++
			body, _ := io.ReadAll(r.Body)
			if r.Header.Get("Content-Type") != "image/png" || http.DetectContentType(body) != "image/png" {
				http.Error(w, "expected png", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(embeddingResponse{EmbeddingID: "emb-1"})
		case "/predict":
			predictCalls++
			if err := json.NewDecoder(r.Body).Decode(&lastPredict); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			enc := base64.StdEncoding.EncodeToString(maskPNG)
			json.NewEncoder(w).Encode(predictResponse{Masks: []string{enc, enc}, Scores: []float64{0.9, 0.5}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	seg := NewSAMSegmenter(srv.URL, srv.Client())
	ctx := context.Background()
	pc, err := seg.NewContext(ctx, gradientImage(5, 4))
	require.NoError(t, err)

	masks, err := pc.Predict(ctx, []Point{{X: 1, Y: 2}, {X: 2, Y: 2}})
	require.NoError(t, err)
	require.Len(t, masks, 2)
	assert.Equal(t, uint8(255), masks[0].AlphaAt(1, 1).A)
	assert.Equal(t, uint8(0), masks[0].AlphaAt(4, 3).A)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, embedCalls)
	assert.Equal(t, 1, predictCalls)
	assert.Equal(t, "emb-1", lastPredict.EmbeddingID)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, lastPredict.PointCoords)
	assert.Equal(t, []int{1, 1}, lastPredict.PointLabels)
	assert.True(t, lastPredict.MultimaskOutput)
}

func TestSAMSegmenter_ErrorClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", int(status.Load()))
	}))
	defer srv.Close()

	seg := NewSAMSegmenter(srv.URL, srv.Client())

	_, err := seg.NewContext(context.Background(), gradientImage(2, 2))
	assert.ErrorIs(t, err, ErrModelFailure)
	assert.True(t, IsRetryable(err))

	status.Store(http.StatusBadRequest)
	_, err = seg.NewContext(context.Background(), gradientImage(2, 2))
	assert.ErrorIs(t, err, ErrModelFailure)
	assert.False(t, IsRetryable(err))

	srv.Close()
	_, err = seg.NewContext(context.Background(), gradientImage(2, 2))
	assert.True(t, IsRetryable(err))
}

func TestRegionGrowSegmenter(t *testing.T) {
	// 左半白色，右半黑色
	img := image.NewNRGBA(image.Rect(0, 0, 10, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 10; x++ {
			v := uint8(255)
			if x >= 5 {
				v = 0
			}
			i := img.PixOffset(x, y)
			copy(img.Pix[i:i+4], []uint8{v, v, v, 255})
		}
	}

	seg := NewRegionGrowSegmenter()
	pc, err := seg.NewContext(context.Background(), img)
	require.NoError(t, err)

	masks, err := pc.Predict(context.Background(), []Point{{X: 1, Y: 1}})
	require.NoError(t, err)
	require.Len(t, masks, len(regionTolerances))
	for _, m := range masks {
		assert.Equal(t, uint8(255), m.AlphaAt(4, 5).A)
		assert.Equal(t, uint8(0), m.AlphaAt(5, 0).A)
	}

	// 两个种子覆盖两个区域
	masks, err = pc.Predict(context.Background(), []Point{{X: 1, Y: 1}, {X: 8, Y: 1}})
	require.NoError(t, err)
	assert.Equal(t, uint8(255), masks[0].AlphaAt(9, 5).A)

	_, err = pc.Predict(context.Background(), []Point{{X: 10, Y: 0}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegionGrowSegmenter_Cancelled(t *testing.T) {
	pc, err := NewRegionGrowSegmenter().NewContext(context.Background(), gradientImage(4, 4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pc.Predict(ctx, []Point{{X: 0, Y: 0}})
	assert.ErrorIs(t, err, context.Canceled)
}
