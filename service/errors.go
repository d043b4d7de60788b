package service

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound 工作区或产物序号不存在
	ErrNotFound = errors.New("not found")

	// ErrEmptyWorkspace 工作区尚未设置主图
	ErrEmptyWorkspace = errors.New("workspace has no primary image")

	// ErrInvalidInput 点坐标、提示词或上传文件不合法
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelFailure 分割模型推理失败
	ErrModelFailure = errors.New("segmentation model failure")

	// ErrServiceFailure 生成式编辑服务或图片下载失败
	ErrServiceFailure = errors.New("edit service failure")

	// ErrStorageFailure 文件系统或目录写入失败
	ErrStorageFailure = errors.New("storage failure")
)

// RetryableError 标记可重试的错误（超时、瞬时网络错误、429/5xx）
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable 包装为可重试错误，nil 保持 nil
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable 判断错误链中是否有可重试标记或超时
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsEmptyWorkspace(err error) bool {
	return errors.Is(err, ErrEmptyWorkspace)
}
