package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// PrimaryImage 工作区主图的显式引用
type PrimaryImage struct {
	WorkspaceID int64
	Path        string
	Filename    string
	ContentType string
	Checksum    string
}

// Store 管理工作区目录布局：
//
//	{root}/{id}/{primary}
//	{root}/{id}/segmentation/mask_{i}.png, composite_{i}.png
//	{root}/{id}/edit/variant_{i}.png
type Store struct {
	root    string
	catalog *Catalog
	locks   lockTable

	hooksMu   sync.RWMutex
	onReplace []func(id int64)
}

func NewStore(root string, catalog *Catalog) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Store{root: root, catalog: catalog}, nil
}

// Dir 工作区根目录
func (s *Store) Dir(id int64) string {
	return filepath.Join(s.root, strconv.FormatInt(id, 10))
}

// OnPrimaryReplaced 注册主图被替换时的回调（用于失效预测器缓存）
func (s *Store) OnPrimaryReplaced(fn func(id int64)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onReplace = append(s.onReplace, fn)
}

// Create 分配新工作区并创建其目录
func (s *Store) Create(ctx context.Context) (int64, error) {
	id, err := s.catalog.Insert(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.Mkdir(s.Dir(id), 0755); err != nil {
		return 0, fmt.Errorf("%w: create workspace %d: %w", ErrStorageFailure, id, err)
	}
	utils.Logger.Debug("workspace created", zap.Int64("workspace_id", id))
	return id, nil
}

// StorePrimaryImage 原子写入主图并更新目录库中的引用
func (s *Store) StorePrimaryImage(ctx context.Context, id int64, data []byte, filename string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	name := sanitizeFilename(filename)
	dir := s.Dir(id)

	locks := s.locks.get(id)
	locks.commit.Lock()
	replaced, err := s.writePrimary(ctx, id, dir, name, data)
	locks.commit.Unlock()
	if err != nil {
		return err
	}

	if replaced {
		s.hooksMu.RLock()
		hooks := s.onReplace
		s.hooksMu.RUnlock()
		for _, fn := range hooks {
			fn(id)
		}
		utils.Logger.Info("primary image replaced", zap.Int64("workspace_id", id), zap.String("file", name))
	}
	return nil
}

func (s *Store) writePrimary(ctx context.Context, id int64, dir, name string, data []byte) (bool, error) {
	rec, err := s.catalog.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if err := requireDir(dir, id); err != nil {
		return false, err
	}

	if err := writeFileAtomic(dir, name, data); err != nil {
		return false, fmt.Errorf("%w: write primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}

	contentType := http.DetectContentType(data)
	if err := s.catalog.SetPrimary(ctx, id, name, contentType, utils.BytesMD5(data)); err != nil {
		if rec.PrimaryName != name {
			_ = os.Remove(filepath.Join(dir, name))
		}
		return false, err
	}

	if rec.PrimaryName != "" && rec.PrimaryName != name {
		if err := os.Remove(filepath.Join(dir, rec.PrimaryName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			utils.Logger.Warn("failed to remove previous primary image",
				zap.Int64("workspace_id", id), zap.String("file", rec.PrimaryName), zap.Error(err))
		}
	}
	return rec.PrimaryName != "", nil
}

// ResolvePrimaryImage 通过目录库引用定位主图，不依赖目录遍历顺序
func (s *Store) ResolvePrimaryImage(ctx context.Context, id int64) (*PrimaryImage, error) {
	rec, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dir := s.Dir(id)
	if err := requireDir(dir, id); err != nil {
		return nil, err
	}
	if rec.PrimaryName == "" {
		return nil, fmt.Errorf("%w: workspace %d", ErrEmptyWorkspace, id)
	}
	return &PrimaryImage{
		WorkspaceID: id,
		Path:        filepath.Join(dir, rec.PrimaryName),
		Filename:    rec.PrimaryName,
		ContentType: rec.ContentType,
		Checksum:    rec.Checksum,
	}, nil
}

// OpenPrimaryImage 打开主图，调用方负责关闭
func (s *Store) OpenPrimaryImage(ctx context.Context, id int64) (*os.File, *PrimaryImage, error) {
	locks := s.locks.get(id)
	locks.commit.RLock()
	defer locks.commit.RUnlock()

	primary, err := s.ResolvePrimaryImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(primary.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}
	return f, primary, nil
}

// ReadPrimaryImage 读取主图全部字节
func (s *Store) ReadPrimaryImage(ctx context.Context, id int64) ([]byte, *PrimaryImage, error) {
	locks := s.locks.get(id)
	locks.commit.RLock()
	defer locks.commit.RUnlock()

	primary, err := s.ResolvePrimaryImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(primary.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read primary image of workspace %d: %w", ErrStorageFailure, id, err)
	}
	return data, primary, nil
}

// LockRound 获取某类产物的整轮独占锁，返回解锁函数
func (s *Store) LockRound(id int64, kind ArtifactKind) func() {
	mu := s.locks.get(id).round(kind)
	mu.Lock()
	return mu.Unlock
}

func requireDir(dir string, id int64) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: workspace directory %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: stat workspace %d: %w", ErrStorageFailure, id, err)
	}
	return nil
}

// writeFileAtomic 先写临时文件再 rename，避免读到半写入的文件
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// reservedNames 与产物目录同名的文件名不能作为主图
var reservedNames = map[string]bool{
	string(KindSegmentation): true,
	string(KindEdit):         true,
}

// sanitizeFilename 去掉路径和不安全字符，隐藏文件名留给暂存目录使用
func sanitizeFilename(filename string) string {
	result := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	unsafe := []string{":", "*", "?", "\"", "<", ">", "|", "\n", "\r", "\t", " "}
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	result = strings.TrimLeft(result, ".")

	if len(result) > 200 {
		result = result[len(result)-200:]
	}
	if result == "" || result == "/" || reservedNames[result] {
		result = "image"
	}
	return result
}
