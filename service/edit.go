package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// EditPipeline 将主图和提示词交给生成服务，下载全部变体后一次性提交
type EditPipeline struct {
	store           *Store
	editor          Editor
	downloader      *Downloader
	retry           RetryPolicy
	variants        int
	size            string
	timeout         time.Duration
	downloadTimeout time.Duration
}

func NewEditPipeline(store *Store, editor Editor, downloader *Downloader, cfg *config.EditConfig) *EditPipeline {
	return &EditPipeline{
		store:      store,
		editor:     editor,
		downloader: downloader,
		retry: RetryPolicy{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
		},
		variants:        cfg.Variants,
		size:            cfg.Size,
		timeout:         cfg.Timeout,
		downloadTimeout: cfg.DownloadTimeout,
	}
}

// GenerateEdits 生成一轮编辑变体；工作区没有主图时返回空列表
func (p *EditPipeline) GenerateEdits(ctx context.Context, id int64, prompt string) ([]Artifact, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}

	unlock := p.store.LockRound(id, KindEdit)
	defer unlock()

	startTime := time.Now()
	data, _, err := p.store.ReadPrimaryImage(ctx, id)
	if IsEmptyWorkspace(err) {
		return []Artifact{}, nil
	}
	if err != nil {
		return nil, err
	}

	sourcePath, err := p.writeSource(id, data)
	if err != nil {
		return nil, err
	}
	defer os.Remove(sourcePath)

	var urls []string
	err = p.retry.Do(ctx, "edit", func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, p.timeout)
		defer cancel()
		var err error
		urls, err = p.editor.Edit(callCtx, sourcePath, prompt, p.variants, p.size)
		return err
	})
	if err != nil {
		return nil, asServiceError(err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: service returned no images", ErrServiceFailure)
	}

	// 全部下载成功后才提交，失败时上一轮保持不变
	files := make([]ArtifactFile, len(urls))
	artifacts := make([]Artifact, len(urls))
	for i, u := range urls {
		img, err := p.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		files[i] = ArtifactFile{Name: VariantName(i), Data: img}
		artifacts[i] = Artifact{Index: i, Kind: KindEdit, Name: VariantName(i)}
	}

	if err := p.store.CommitArtifacts(id, KindEdit, files); err != nil {
		return nil, err
	}

	utils.Logger.Info("edit completed",
		zap.Int64("workspace_id", id),
		zap.Int("variants", len(files)),
		zap.Duration("duration", time.Since(startTime)))
	return artifacts, nil
}

// writeSource 生成服务要求 RGBA PNG，统一转换后写入工作区内的临时文件
func (p *EditPipeline) writeSource(id int64, data []byte) (string, error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return "", fmt.Errorf("%w: primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}
	encoded, err := EncodePNG(ToNRGBA(img))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	f, err := os.CreateTemp(p.store.Dir(id), ".edit-source-*.png")
	if err != nil {
		return "", fmt.Errorf("%w: create edit source: %w", ErrStorageFailure, err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: write edit source: %w", ErrStorageFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: write edit source: %w", ErrStorageFailure, err)
	}
	return f.Name(), nil
}

// fetch 下载单个变体并统一为 PNG
func (p *EditPipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := p.retry.Do(ctx, "download", func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, p.downloadTimeout)
		defer cancel()
		var err error
		data, _, err = p.downloader.DownloadBytes(callCtx, url)
		return err
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	if http.DetectContentType(data) == "image/png" {
		return data, nil
	}
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: downloaded variant is not an image: %w", ErrServiceFailure, err)
	}
	encoded, err := EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return encoded, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// asServiceError 超时或取消时补上 ErrServiceFailure 分类并保持可重试
func asServiceError(err error) error {
	if !IsRetryable(err) {
		return err
	}
	if !errors.Is(err, ErrServiceFailure) {
		err = fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}
	return Retryable(err)
}
