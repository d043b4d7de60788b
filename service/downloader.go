package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxDownloadBytes 单张生成图片的大小上限
const maxDownloadBytes = 32 << 20

// Downloader 下载生成服务返回的临时图片链接
type Downloader struct {
	client *http.Client
}

// NewDownloader client 为 nil 时使用默认客户端，超时由调用方 context 控制
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{client: client}
}

// DownloadBytes 下载图片到内存，返回数据和 Content-Type
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("%w: empty image url", ErrServiceFailure)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build download request: %w", ErrServiceFailure, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", Retryable(fmt.Errorf("%w: download image: %w", ErrServiceFailure, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: download failed with status %d", ErrServiceFailure, resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return nil, "", Retryable(err)
		}
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", Retryable(fmt.Errorf("%w: read image data: %w", ErrServiceFailure, err))
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", ErrServiceFailure, maxDownloadBytes)
	}

	return data, resp.Header.Get("Content-Type"), nil
}
