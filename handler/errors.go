package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ignacio-urrutia/ImageEditor/model"
	"github.com/ignacio-urrutia/ImageEditor/service"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// retryAfterSeconds 瞬时失败时建议客户端的重试间隔
const retryAfterSeconds = "5"

// statusOf 错误分类到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyWorkspace):
		return http.StatusConflict
	case service.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrModelFailure), errors.Is(err, service.ErrServiceFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 记录日志并返回统一的错误响应
func respondError(c *gin.Context, message string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		utils.Logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		utils.Logger.Warn(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

// badRequest 请求参数本身不合法
func badRequest(c *gin.Context, message string, err error) {
	resp := model.ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}
