package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/model"
	"github.com/ignacio-urrutia/ImageEditor/service"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

type UploadHandler struct {
	cfg          *config.Config
	store        *service.Store
	segmentation *service.SegmentationPipeline
}

func NewUploadHandler(cfg *config.Config, store *service.Store, segmentation *service.SegmentationPipeline) *UploadHandler {
	return &UploadHandler{
		cfg:          cfg,
		store:        store,
		segmentation: segmentation,
	}
}

// Upload 处理图片上传：创建工作区并写入主图
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		utils.Logger.Warn("failed to get uploaded file", zap.Error(err))
		badRequest(c, "image file is required", err)
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		badRequest(c, fmt.Sprintf("file exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)), nil)
		return
	}

	data, err := readUploadedFile(file)
	if err != nil {
		respondError(c, "failed to read uploaded file", fmt.Errorf("%w: %w", service.ErrStorageFailure, err))
		return
	}

	// 按内容而不是请求头判断类型
	contentType := http.DetectContentType(data)
	if !h.isAllowedType(contentType) {
		badRequest(c, "unsupported file type", fmt.Errorf("content type %s", contentType))
		return
	}
	if _, _, err := service.DecodeImage(data); err != nil {
		badRequest(c, "file is not a valid image", err)
		return
	}

	ctx := c.Request.Context()
	id, err := h.store.Create(ctx)
	if err != nil {
		respondError(c, "failed to create workspace", err)
		return
	}
	if err := h.store.StorePrimaryImage(ctx, id, data, file.Filename); err != nil {
		respondError(c, "failed to store image", err)
		return
	}

	utils.Logger.Info("file uploaded",
		zap.Int64("workspace_id", id),
		zap.String("filename", file.Filename),
		zap.String("content_type", contentType),
		zap.Int64("size", file.Size))

	if h.cfg.Segmentation.WarmOnUpload && h.segmentation != nil {
		go h.warm(id)
	}

	c.JSON(http.StatusOK, model.ImageIDResponse{ImageID: id})
}

// warm 后台预先构建预测上下文，失败只记录日志
func (h *UploadHandler) warm(id int64) {
	if err := h.segmentation.Warm(context.Background(), id); err != nil {
		utils.Logger.Warn("failed to warm predictor", zap.Int64("workspace_id", id), zap.Error(err))
	}
}

func readUploadedFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, header.Size+1))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (h *UploadHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
