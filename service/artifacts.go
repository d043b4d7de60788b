package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ignacio-urrutia/ImageEditor/utils"
	"go.uber.org/zap"
)

// ArtifactKind 产物集合类型，同时也是工作区下的子目录名
type ArtifactKind string

const (
	KindSegmentation ArtifactKind = "segmentation"
	KindEdit         ArtifactKind = "edit"
)

// Artifact 一轮生成中的单个产物
type Artifact struct {
	Index int
	Kind  ArtifactKind
	Name  string
}

// ArtifactFile 待提交的产物文件
type ArtifactFile struct {
	Name string
	Data []byte
}

func MaskName(i int) string      { return fmt.Sprintf("mask_%d.png", i) }
func CompositeName(i int) string { return fmt.Sprintf("composite_%d.png", i) }
func VariantName(i int) string   { return fmt.Sprintf("variant_%d.png", i) }

// CommitArtifacts 整体替换某类产物集合
//
// 所有文件先写入工作区内的暂存目录，再在 commit 写锁下与现有目录交换。
// 任一步失败时上一轮产物保持不变。
func (s *Store) CommitArtifacts(id int64, kind ArtifactKind, files []ArtifactFile) error {
	dir := s.Dir(id)
	if err := requireDir(dir, id); err != nil {
		return err
	}

	stage, err := os.MkdirTemp(dir, ".staging-"+string(kind)+"-")
	if err != nil {
		return fmt.Errorf("%w: create staging directory: %w", ErrStorageFailure, err)
	}
	for _, f := range files {
		if !validArtifactName(f.Name) {
			os.RemoveAll(stage)
			return fmt.Errorf("%w: artifact name %q", ErrInvalidInput, f.Name)
		}
		if err := os.WriteFile(filepath.Join(stage, f.Name), f.Data, 0644); err != nil {
			os.RemoveAll(stage)
			return fmt.Errorf("%w: write artifact %s: %w", ErrStorageFailure, f.Name, err)
		}
	}
	if err := os.Chmod(stage, 0755); err != nil {
		os.RemoveAll(stage)
		return fmt.Errorf("%w: chmod staging directory: %w", ErrStorageFailure, err)
	}

	retired, err := s.swapIn(id, dir, kind, stage)
	if err != nil {
		os.RemoveAll(stage)
		return err
	}
	if retired != "" {
		if err := os.RemoveAll(retired); err != nil {
			utils.Logger.Warn("failed to remove retired artifacts",
				zap.Int64("workspace_id", id), zap.String("dir", retired), zap.Error(err))
		}
	}

	utils.Logger.Debug("artifacts committed",
		zap.Int64("workspace_id", id),
		zap.String("kind", string(kind)),
		zap.Int("files", len(files)))
	return nil
}

func (s *Store) swapIn(id int64, dir string, kind ArtifactKind, stage string) (string, error) {
	locks := s.locks.get(id)
	locks.commit.Lock()
	defer locks.commit.Unlock()

	target := filepath.Join(dir, string(kind))
	retired := ""
	if _, err := os.Stat(target); err == nil {
		retired = filepath.Join(dir, ".retired-"+string(kind)+"-"+uuid.NewString())
		if err := os.Rename(target, retired); err != nil {
			return "", fmt.Errorf("%w: retire %s: %w", ErrStorageFailure, kind, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: stat %s: %w", ErrStorageFailure, kind, err)
	}

	if err := os.Rename(stage, target); err != nil {
		if retired != "" {
			if rbErr := os.Rename(retired, target); rbErr != nil {
				utils.Logger.Error("failed to restore previous artifacts",
					zap.Int64("workspace_id", id), zap.String("kind", string(kind)), zap.Error(rbErr))
			}
		}
		return "", fmt.Errorf("%w: commit %s: %w", ErrStorageFailure, kind, err)
	}
	return retired, nil
}

// OpenArtifact 打开最新一轮中的产物文件，调用方负责关闭
func (s *Store) OpenArtifact(id int64, kind ArtifactKind, name string) (*os.File, error) {
	if !validArtifactName(name) {
		return nil, fmt.Errorf("%w: artifact %s/%s", ErrNotFound, kind, name)
	}
	locks := s.locks.get(id)
	locks.commit.RLock()
	defer locks.commit.RUnlock()

	f, err := os.Open(filepath.Join(s.Dir(id), string(kind), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: workspace %d artifact %s/%s", ErrNotFound, id, kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open artifact: %w", ErrStorageFailure, err)
	}
	return f, nil
}

// ReadArtifact 读取产物全部字节
func (s *Store) ReadArtifact(id int64, kind ArtifactKind, name string) ([]byte, error) {
	f, err := s.OpenArtifact(id, kind, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %w", ErrStorageFailure, err)
	}
	return data, nil
}

func validArtifactName(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && !strings.ContainsAny(name, `/\`)
}
