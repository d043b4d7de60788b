package service

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Catalog 记录工作区身份与主图引用，ID 由 AUTOINCREMENT 分配，永不复用
type Catalog struct {
	db *sql.DB
}

type workspaceRecord struct {
	ID          int64
	PrimaryName string
	ContentType string
	Checksum    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OpenCatalog 打开目录库并执行未应用的迁移
func OpenCatalog(path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory %s: %w", dir, err)
		}
	}

	if err := migrateCatalog(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	// SQLite 单写连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Catalog{db: db}, nil
}

// migrateCatalog 使用独立连接执行迁移，migrate.Close 会关闭该连接
func migrateCatalog(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open catalog for migration: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Insert 分配新的工作区ID
func (c *Catalog) Insert(ctx context.Context) (int64, error) {
	now := time.Now().UnixNano()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO workspaces (created_at, updated_at) VALUES (?, ?)`, now, now)
	if err != nil {
		return 0, fmt.Errorf("%w: insert workspace: %w", ErrStorageFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: read workspace id: %w", ErrStorageFailure, err)
	}
	return id, nil
}

// Get 读取工作区记录，不存在返回 ErrNotFound
func (c *Catalog) Get(ctx context.Context, id int64) (*workspaceRecord, error) {
	var (
		rec       workspaceRecord
		createdAt int64
		updatedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, primary_name, content_type, checksum, created_at, updated_at
		   FROM workspaces WHERE id = ?`, id).
		Scan(&rec.ID, &rec.PrimaryName, &rec.ContentType, &rec.Checksum, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: workspace %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query workspace %d: %w", ErrStorageFailure, id, err)
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}

// SetPrimary 更新主图引用
func (c *Catalog) SetPrimary(ctx context.Context, id int64, name, contentType, checksum string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE workspaces SET primary_name = ?, content_type = ?, checksum = ?, updated_at = ?
		  WHERE id = ?`, name, contentType, checksum, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("%w: update workspace %d: %w", ErrStorageFailure, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: workspace %d", ErrNotFound, id)
	}
	return nil
}
