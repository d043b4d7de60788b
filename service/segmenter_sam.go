package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
)

// SAMSegmenter 调用独立部署的 Segment Anything 推理服务
//
//	POST {endpoint}/embeddings  body: PNG            -> {"embedding_id": "..."}
//	POST {endpoint}/predict     body: predictRequest -> predictResponse
//
// 图片编码（开销大）在 NewContext 完成，服务端按 embedding_id 保存；
// Predict 只传点坐标。
type SAMSegmenter struct {
	endpoint string
	client   *http.Client
}

type embeddingResponse struct {
	EmbeddingID string `json:"embedding_id"`
}

type predictRequest struct {
	EmbeddingID     string   `json:"embedding_id"`
	PointCoords     [][2]int `json:"point_coords"`
	PointLabels     []int    `json:"point_labels"`
	MultimaskOutput bool     `json:"multimask_output"`
}

type predictResponse struct {
	Masks  []string  `json:"masks"`
	Scores []float64 `json:"scores,omitempty"`
}

// NewSAMSegmenter client 为 nil 时使用默认客户端，超时由调用方 context 控制
func NewSAMSegmenter(endpoint string, client *http.Client) *SAMSegmenter {
	if client == nil {
		client = &http.Client{}
	}
	return &SAMSegmenter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

func (s *SAMSegmenter) NewContext(ctx context.Context, img image.Image) (PredictorContext, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelFailure, err)
	}

	var resp embeddingResponse
	if err := s.post(ctx, "/embeddings", "image/png", data, &resp); err != nil {
		return nil, err
	}
	if resp.EmbeddingID == "" {
		return nil, fmt.Errorf("%w: empty embedding id", ErrModelFailure)
	}

	b := img.Bounds()
	return &samContext{
		segmenter:   s,
		embeddingID: resp.EmbeddingID,
		bounds:      image.Rect(0, 0, b.Dx(), b.Dy()),
	}, nil
}

type samContext struct {
	segmenter   *SAMSegmenter
	embeddingID string
	bounds      image.Rectangle
}

func (c *samContext) Predict(ctx context.Context, points []Point) ([]*image.Alpha, error) {
	req := predictRequest{
		EmbeddingID:     c.embeddingID,
		PointCoords:     make([][2]int, len(points)),
		PointLabels:     make([]int, len(points)),
		MultimaskOutput: true,
	}
	for i, p := range points {
		req.PointCoords[i] = [2]int{p.X, p.Y}
		// 只支持前景点
		req.PointLabels[i] = 1
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelFailure, err)
	}

	var resp predictResponse
	if err := c.segmenter.post(ctx, "/predict", "application/json", body, &resp); err != nil {
		return nil, err
	}

	masks := make([]*image.Alpha, 0, len(resp.Masks))
	for i, encoded := range resp.Masks {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: mask %d: %w", ErrModelFailure, i, err)
		}
		mask, err := DecodeMask(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: mask %d: %w", ErrModelFailure, i, err)
		}
		masks = append(masks, mask)
	}
	return masks, nil
}

func (s *SAMSegmenter) post(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrModelFailure, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return Retryable(fmt.Errorf("%w: %s: %w", ErrModelFailure, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: %s returned %d: %s", ErrModelFailure, path, resp.StatusCode, strings.TrimSpace(string(msg)))
		if retryableStatus(resp.StatusCode) {
			return Retryable(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrModelFailure, path, err)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
