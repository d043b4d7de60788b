package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/ignacio-urrutia/ImageEditor/config"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MaskCache 缓存膨胀后的分割掩码
//
// scope 区分产生掩码的后端和膨胀次数，checksum 和 points 标识图片与提示点。
type MaskCache interface {
	GetMasks(ctx context.Context, scope, checksum string, points []Point) ([]*image.Alpha, error)
	SetMasks(ctx context.Context, scope, checksum string, points []Point, masks []*image.Alpha) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// cachedMasks 掩码以 base64 PNG 存储
type cachedMasks struct {
	Masks     []string `json:"masks"`
	Timestamp int64    `json:"timestamp"`
}

func maskKey(scope, checksum string, points []Point) string {
	var b strings.Builder
	b.WriteString("masks:")
	b.WriteString(scope)
	b.WriteString(":")
	b.WriteString(checksum)
	for _, p := range points {
		fmt.Fprintf(&b, ":%d,%d", p.X, p.Y)
	}
	return b.String()
}

// GetMasks 从缓存获取掩码，未命中返回 nil, nil
func (s *RedisService) GetMasks(ctx context.Context, scope, checksum string, points []Point) ([]*image.Alpha, error) {
	key := maskKey(scope, checksum, points)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var cached cachedMasks
	if err := json.Unmarshal(data, &cached); err != nil {
		utils.Logger.Error("failed to unmarshal cached masks",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	masks := make([]*image.Alpha, 0, len(cached.Masks))
	for _, encoded := range cached.Masks {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
		mask, err := DecodeMask(raw)
		if err != nil {
			return nil, err
		}
		masks = append(masks, mask)
	}
	return masks, nil
}

// SetMasks 写入缓存
func (s *RedisService) SetMasks(ctx context.Context, scope, checksum string, points []Point, masks []*image.Alpha) error {
	cached := cachedMasks{
		Masks:     make([]string, 0, len(masks)),
		Timestamp: time.Now().Unix(),
	}
	for _, mask := range masks {
		raw, err := EncodeMaskPNG(mask)
		if err != nil {
			return err
		}
		cached.Masks = append(cached.Masks, base64.StdEncoding.EncodeToString(raw))
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, maskKey(scope, checksum, points), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
