package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/sashabaranov/go-openai"
)

// Editor 生成式图片编辑服务：返回 n 个生成图片的远程链接
type Editor interface {
	Edit(ctx context.Context, imagePath, prompt string, n int, size string) ([]string, error)
}

// OpenAIEditor 调用 OpenAI images/edits 接口
type OpenAIEditor struct {
	client *openai.Client
	model  string
}

func NewOpenAIEditor(cfg *config.EditConfig) (*OpenAIEditor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("edit: OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE2
	}

	return &OpenAIEditor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Edit 图片本身同时作为 mask 传入，透明区域即可编辑区域
func (e *OpenAIEditor) Edit(ctx context.Context, imagePath, prompt string, n int, size string) ([]string, error) {
	image, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open edit source: %w", ErrStorageFailure, err)
	}
	defer image.Close()

	mask, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open edit mask: %w", ErrStorageFailure, err)
	}
	defer mask.Close()

	resp, err := e.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          image,
		Mask:           mask,
		Prompt:         prompt,
		Model:          e.model,
		N:              n,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	urls := make([]string, 0, len(resp.Data))
	for i, d := range resp.Data {
		if d.URL == "" {
			return nil, fmt.Errorf("%w: OpenAI returned empty URL for image %d", ErrServiceFailure, i)
		}
		urls = append(urls, d.URL)
	}
	return urls, nil
}

func classifyOpenAIError(err error) error {
	wrapped := fmt.Errorf("%w: OpenAI image edit failed: %w", ErrServiceFailure, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return Retryable(wrapped)
		}
		return wrapped
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return Retryable(wrapped)
		}
		return wrapped
	}
	// 传输层错误（连接被拒、重置、超时）视为瞬时错误
	var urlErr *url.Error
	if errors.As(err, &urlErr) || IsRetryable(err) {
		return Retryable(wrapped)
	}
	return wrapped
}

// DisabledEditor 未配置 API key 时使用，编辑请求直接失败
type DisabledEditor struct{}

func (DisabledEditor) Edit(context.Context, string, string, int, string) ([]string, error) {
	return nil, fmt.Errorf("%w: edit service is not configured", ErrServiceFailure)
}
