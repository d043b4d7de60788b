package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/handler"
	"github.com/ignacio-urrutia/ImageEditor/service"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, utils.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting image editor server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 工作区目录库与存储
	catalog, err := service.OpenCatalog(cfg.Workspace.CatalogPath)
	if err != nil {
		utils.Logger.Fatal("failed to open catalog", zap.Error(err))
	}
	defer catalog.Close()

	store, err := service.NewStore(cfg.Workspace.Root, catalog)
	if err != nil {
		utils.Logger.Fatal("failed to initialize workspace store", zap.Error(err))
	}

	// 分割模型与预测器缓存
	segmenter, err := service.NewSegmenter(&cfg.Segmentation)
	if err != nil {
		utils.Logger.Fatal("failed to initialize segmenter", zap.Error(err))
	}
	predictors, err := service.NewPredictorCache(segmenter, cfg.Segmentation.CacheCapacity, cfg.Segmentation.BuildTimeout)
	if err != nil {
		utils.Logger.Fatal("failed to initialize predictor cache", zap.Error(err))
	}
	store.OnPrimaryReplaced(predictors.Invalidate)

	// 初始化Redis（可选的掩码缓存）
	var maskCache service.MaskCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisService.Ping(pingCtx)
		cancel()
		if err != nil {
			utils.Logger.Warn("redis connection failed, mask cache disabled", zap.Error(err))
			redisService.Close()
		} else {
			utils.Logger.Info("redis connected successfully")
			maskCache = redisService
			defer redisService.Close()
		}
	}

	// 生成式编辑服务
	var editor service.Editor
	openAIEditor, err := service.NewOpenAIEditor(&cfg.Edit)
	if err != nil {
		utils.Logger.Warn("edit service disabled", zap.Error(err))
		editor = service.DisabledEditor{}
	} else {
		editor = openAIEditor
	}

	segmentation := service.NewSegmentationPipeline(store, predictors, maskCache, &cfg.Segmentation)
	edit := service.NewEditPipeline(store, editor, service.NewDownloader(nil), &cfg.Edit)
	derivation := service.NewDerivation(store)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	router := handler.NewRouter(cfg,
		handler.BuildInfo{
			Version:   Version,
			BuildTime: BuildTime,
			BuildID:   BuildID,
			GitCommit: GitCommit,
			GitBranch: GitBranch,
		},
		handler.NewUploadHandler(cfg, store, segmentation),
		handler.NewImageHandler(store, segmentation, edit, derivation))

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}
}
