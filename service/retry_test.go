package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "test", func(context.Context) error {
			calls++
			if calls < 3 {
				return Retryable(errors.New("flaky"))
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return Retryable(ErrServiceFailure)
		})
		assert.ErrorIs(t, err, ErrServiceFailure)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return ErrInvalidInput
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero retries", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return Retryable(errors.New("flaky"))
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrModelFailure))
	assert.True(t, IsRetryable(Retryable(ErrModelFailure)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", Retryable(ErrModelFailure))))
	assert.True(t, IsRetryable(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Nil(t, Retryable(nil))
}

func TestClassifyOpenAIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "oops"}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "invalid size"}, false},
		{"request error 502", &openai.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, true},
		{"request error 401", &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized, Err: errors.New("unauthorized")}, false},
		{"transport", &url.Error{Op: "Post", URL: "https://api", Err: errors.New("connection reset")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("unexpected"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyOpenAIError(tt.err)
			assert.ErrorIs(t, err, ErrServiceFailure)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestNewOpenAIEditor_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEditor(&config.EditConfig{})
	assert.Error(t, err)

	editor, err := NewOpenAIEditor(&config.EditConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, openai.CreateImageModelDallE2, editor.model)
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	ctx := context.Background()

	data, contentType, err := d.DownloadBytes(ctx, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", contentType)

	_, _, err = d.DownloadBytes(ctx, srv.URL+"/busy")
	assert.ErrorIs(t, err, ErrServiceFailure)
	assert.True(t, IsRetryable(err))

	_, _, err = d.DownloadBytes(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrServiceFailure)
	assert.False(t, IsRetryable(err))

	_, _, err = d.DownloadBytes(ctx, "")
	assert.ErrorIs(t, err, ErrServiceFailure)
}
