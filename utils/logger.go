package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger = zap.NewNop()

// FileOptions 日志文件轮转参数，Path 为空时不写文件
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func InitLogger(mode string, file FileOptions) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	if file.Path != "" {
		logger = logger.WithOptions(zap.WrapCore(func(console zapcore.Core) zapcore.Core {
			return zapcore.NewTee(console, newFileCore(file, config.Level))
		}))
	}

	Logger = logger
	return nil
}

// newFileCore 文件输出固定使用 JSON 编码，便于采集
func newFileCore(file FileOptions, level zap.AtomicLevel) zapcore.Core {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	})
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writer, level)
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
