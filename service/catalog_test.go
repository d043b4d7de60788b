package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	ctx := context.Background()

	catalog, err := OpenCatalog(path)
	require.NoError(t, err)
	first, err := catalog.Insert(ctx)
	require.NoError(t, err)
	require.NoError(t, catalog.SetPrimary(ctx, first, "a.png", "image/png", "sum"))
	require.NoError(t, catalog.Close())

	// 重新打开时迁移已应用，不应报错
	catalog, err = OpenCatalog(path)
	require.NoError(t, err)
	defer catalog.Close()

	rec, err := catalog.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "a.png", rec.PrimaryName)
	assert.Equal(t, "image/png", rec.ContentType)
	assert.Equal(t, "sum", rec.Checksum)

	second, err := catalog.Insert(ctx)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestCatalog_Errors(t *testing.T) {
	_, err := OpenCatalog("")
	assert.Error(t, err)

	catalog, err := OpenCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer catalog.Close()

	ctx := context.Background()
	_, err = catalog.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	err = catalog.SetPrimary(ctx, 1, "a.png", "image/png", "sum")
	assert.ErrorIs(t, err, ErrNotFound)
}
