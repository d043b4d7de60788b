package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Edit         EditConfig         `mapstructure:"edit"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LogConfig 日志文件轮转配置，File 为空时只输出到控制台
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// WorkspaceConfig 工作区存储位置
type WorkspaceConfig struct {
	Root        string `mapstructure:"root"`
	CatalogPath string `mapstructure:"catalog_path"`
}

// SegmentationConfig 分割模型与预测器缓存配置
type SegmentationConfig struct {
	Backend        string        `mapstructure:"backend"`
	Endpoint       string        `mapstructure:"endpoint"`
	DilatePasses   int           `mapstructure:"dilate_passes"`
	CacheCapacity  int           `mapstructure:"cache_capacity"`
	BuildTimeout   time.Duration `mapstructure:"build_timeout"`
	PredictTimeout time.Duration `mapstructure:"predict_timeout"`
	WarmOnUpload   bool          `mapstructure:"warm_on_upload"`
}

// EditConfig 生成式编辑服务配置
type EditConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	Variants        int           `mapstructure:"variants"`
	Size            string        `mapstructure:"size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
}

// Load 从 YAML 文件加载配置，文件不存在时使用默认值，环境变量优先
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("edit.api_key", "EDIT_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	// 设置默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查无法靠默认值修正的配置
func (c *Config) Validate() error {
	switch c.Segmentation.Backend {
	case "local":
	case "sam":
		if c.Segmentation.Endpoint == "" {
			return fmt.Errorf("segmentation.endpoint is required for the sam backend")
		}
	default:
		return fmt.Errorf("unknown segmentation backend %q", c.Segmentation.Backend)
	}
	if c.Segmentation.DilatePasses < 0 {
		return fmt.Errorf("segmentation.dilate_passes must not be negative")
	}
	if c.Segmentation.CacheCapacity <= 0 {
		return fmt.Errorf("segmentation.cache_capacity must be positive")
	}
	if c.Edit.Variants <= 0 {
		return fmt.Errorf("edit.variants must be positive")
	}
	if c.Edit.MaxRetries < 0 {
		return fmt.Errorf("edit.max_retries must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("workspace.root", d.Workspace.Root)
	v.SetDefault("workspace.catalog_path", d.Workspace.CatalogPath)

	v.SetDefault("segmentation.backend", d.Segmentation.Backend)
	v.SetDefault("segmentation.endpoint", d.Segmentation.Endpoint)
	v.SetDefault("segmentation.dilate_passes", d.Segmentation.DilatePasses)
	v.SetDefault("segmentation.cache_capacity", d.Segmentation.CacheCapacity)
	v.SetDefault("segmentation.build_timeout", d.Segmentation.BuildTimeout)
	v.SetDefault("segmentation.predict_timeout", d.Segmentation.PredictTimeout)
	v.SetDefault("segmentation.warm_on_upload", d.Segmentation.WarmOnUpload)

	v.SetDefault("edit.api_key", d.Edit.APIKey)
	v.SetDefault("edit.base_url", d.Edit.BaseURL)
	v.SetDefault("edit.model", d.Edit.Model)
	v.SetDefault("edit.variants", d.Edit.Variants)
	v.SetDefault("edit.size", d.Edit.Size)
	v.SetDefault("edit.timeout", d.Edit.Timeout)
	v.SetDefault("edit.download_timeout", d.Edit.DownloadTimeout)
	v.SetDefault("edit.max_retries", d.Edit.MaxRetries)
	v.SetDefault("edit.retry_interval", d.Edit.RetryInterval)
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":5001",
			Mode:           "debug",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			TTL:     24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"},
		},
		Workspace: WorkspaceConfig{
			Root:        "./workspace",
			CatalogPath: "./workspace/catalog.db",
		},
		Segmentation: SegmentationConfig{
			Backend:        "local",
			DilatePasses:   5,
			CacheCapacity:  16,
			BuildTimeout:   2 * time.Minute,
			PredictTimeout: 60 * time.Second,
			WarmOnUpload:   true,
		},
		Edit: EditConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "dall-e-2",
			Variants:        3,
			Size:            "1024x1024",
			Timeout:         2 * time.Minute,
			DownloadTimeout: 60 * time.Second,
			MaxRetries:      2,
			RetryInterval:   500 * time.Millisecond,
		},
	}
}
