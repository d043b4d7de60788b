package handler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignacio-urrutia/ImageEditor/model"
	"github.com/ignacio-urrutia/ImageEditor/service"
	"github.com/ignacio-urrutia/ImageEditor/utils"
)

type ImageHandler struct {
	store        *service.Store
	segmentation *service.SegmentationPipeline
	edit         *service.EditPipeline
	derivation   *service.Derivation
}

func NewImageHandler(store *service.Store, segmentation *service.SegmentationPipeline, edit *service.EditPipeline, derivation *service.Derivation) *ImageHandler {
	return &ImageHandler{
		store:        store,
		segmentation: segmentation,
		edit:         edit,
		derivation:   derivation,
	}
}

// GetImage 以附件形式返回工作区主图
func (h *ImageHandler) GetImage(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	f, primary, err := h.store.OpenPrimaryImage(c.Request.Context(), id)
	if err != nil {
		respondError(c, "failed to get image", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(c, "failed to get image", fmt.Errorf("%w: %w", service.ErrStorageFailure, err))
		return
	}

	c.Header("Content-Type", primary.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", primary.Filename))
	c.Header("ETag", strconv.Quote(primary.Checksum))
	http.ServeContent(c.Writer, c.Request, primary.Filename, info.ModTime(), f)
}

// GetMaskedImage 返回最新一轮分割的第 n 个抠图
func (h *ImageHandler) GetMaskedImage(c *gin.Context) {
	h.serveArtifact(c, service.KindSegmentation, service.CompositeName)
}

// GetEditedImage 返回最新一轮编辑的第 n 个变体
func (h *ImageHandler) GetEditedImage(c *gin.Context) {
	h.serveArtifact(c, service.KindEdit, service.VariantName)
}

func (h *ImageHandler) serveArtifact(c *gin.Context, kind service.ArtifactKind, name func(int) string) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	n, ok := pathInt(c, "n")
	if !ok {
		return
	}
	f, err := h.store.OpenArtifact(id, kind, name(int(n)))
	if err != nil {
		respondError(c, "failed to get image", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(c, "failed to get image", fmt.Errorf("%w: %w", service.ErrStorageFailure, err))
		return
	}
	c.Header("Content-Type", "image/png")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

// SubmitPoints 执行一轮分割并返回抠图链接
func (h *ImageHandler) SubmitPoints(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var req model.SubmitPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	points := make([]service.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = pixelPoint(p)
	}

	artifacts, err := h.segmentation.Segment(c.Request.Context(), id, points)
	if err != nil {
		respondError(c, "segmentation failed", err)
		return
	}
	c.JSON(http.StatusOK, model.SegmentResponse{
		SegmentedImages: artifactURLs(id, "masked_image", artifacts),
	})
}

// EditImage 执行一轮生成式编辑并返回变体链接
func (h *ImageHandler) EditImage(c *gin.Context) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	var req model.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	artifacts, err := h.edit.GenerateEdits(c.Request.Context(), id, req.Prompt)
	if err != nil {
		respondError(c, "edit failed", err)
		return
	}
	c.JSON(http.StatusOK, model.EditResponse{
		EditedImages: artifactURLs(id, "edited_image", artifacts),
	})
}

// SetMaskAsImage 以第 n 个抠图创建新工作区
func (h *ImageHandler) SetMaskAsImage(c *gin.Context) {
	h.derive(c, h.derivation.FromMask)
}

// SetEditedAsImage 以第 n 个编辑变体创建新工作区
func (h *ImageHandler) SetEditedAsImage(c *gin.Context) {
	h.derive(c, h.derivation.FromEdit)
}

// RemoveFromImage 从主图去掉第 n 个掩码区域并创建新工作区
func (h *ImageHandler) RemoveFromImage(c *gin.Context) {
	h.derive(c, h.derivation.ByRemoval)
}

type deriveFunc func(ctx context.Context, id int64, n int) (int64, error)

func (h *ImageHandler) derive(c *gin.Context, fn deriveFunc) {
	id, ok := pathInt(c, "id")
	if !ok {
		return
	}
	n, ok := pathInt(c, "n")
	if !ok {
		return
	}
	newID, err := fn(c.Request.Context(), id, int(n))
	if err != nil {
		respondError(c, "failed to create image", err)
		return
	}
	c.JSON(http.StatusOK, model.ImageIDResponse{ImageID: newID})
}

// pixelPoint 取所在像素；越界由分割流程校验
func pixelPoint(p model.Point) service.Point {
	return service.Point{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// pathInt 解析路径参数；无法解析的ID或序号不可能存在，按 404 处理
func pathInt(c *gin.Context, name string) (int64, bool) {
	v, err := utils.ParseID(c.Param(name))
	if err != nil {
		respondError(c, "not found", fmt.Errorf("%w: %s: %w", service.ErrNotFound, name, err))
		return 0, false
	}
	return v, true
}

// artifactURLs 链接带时间戳查询参数，避免浏览器缓存上一轮的结果
func artifactURLs(id int64, route string, artifacts []service.Artifact) []string {
	stamp := time.Now().UnixNano()
	urls := make([]string, len(artifacts))
	for i, a := range artifacts {
		urls[i] = fmt.Sprintf("/image/%d/%s/%d?%d", id, route, a.Index, stamp)
	}
	return urls
}
