package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/middleware"
)

// BuildInfo 编译时注入的版本信息
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

// NewRouter 注册全部路由
func NewRouter(cfg *config.Config, info BuildInfo, upload *UploadHandler, images *ImageHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Hello World"})
	})

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    info.Version,
			"build_time": info.BuildTime,
			"build_id":   info.BuildID,
			"git_commit": info.GitCommit,
			"git_branch": info.GitBranch,
		})
	})

	r.POST("/upload_image", upload.Upload)

	image := r.Group("/image/:id")
	{
		image.GET("", images.GetImage)
		image.GET("/masked_image/:n", images.GetMaskedImage)
		image.GET("/edited_image/:n", images.GetEditedImage)
		image.POST("/submit_points", images.SubmitPoints)
		image.GET("/set_mask_as_image/:n", images.SetMaskAsImage)
		image.GET("/set_edited_as_image/:n", images.SetEditedAsImage)
		image.GET("/remove_from_image/:n", images.RemoveFromImage)
		image.POST("/edit_image", images.EditImage)
	}

	return r
}
