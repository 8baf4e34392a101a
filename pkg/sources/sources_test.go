package sources_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/comfforts/logger"
	"github.com/stretchr/testify/require"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/sources"
)

func TestReadIDs(t *testing.T) {
	ctx := context.Background()

	data := "id,name\n101, first\n\n  102 ,second\n,blank\n103\n"
	ids, err := sources.ReadIDs(ctx, strings.NewReader(data), ',', 0)
	require.NoError(t, err)
	require.Equal(t, []domain.ProductID{"101", "102", "103"}, ids)

	ids, err = sources.ReadIDs(ctx, strings.NewReader(data), ',', 2)
	require.NoError(t, err)
	require.Equal(t, []domain.ProductID{"101", "102"}, ids)

	ids, err = sources.ReadIDs(ctx, strings.NewReader(""), ',', 0)
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = sources.ReadIDs(ctx, strings.NewReader("id\n"), ',', 0)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestLocalCSVConfig_BuildSource(t *testing.T) {
	l := logger.GetSlogLogger()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithLogger(ctx, l)

	_, err := sources.LocalCSVConfig{}.BuildSource(ctx)
	require.ErrorIs(t, err, sources.ErrLocalCSVPathRequired)

	_, err = sources.LocalCSVConfig{Path: filepath.Join(t.TempDir(), "missing.csv")}.BuildSource(ctx)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n2\n3\n"), 0o644))

	src, err := sources.LocalCSVConfig{Path: path}.BuildSource(ctx)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, src.Close(ctx))
	}()
	require.Equal(t, sources.LocalCSVSource, src.Name())

	ids, err := src.ReadIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.ProductID{"1", "2", "3"}, ids)
}

func TestCloudCSVConfig_Validate(t *testing.T) {
	cfg := sources.CloudCSVConfig{}
	require.ErrorIs(t, cfg.Validate(), sources.ErrCloudCSVPathRequired)

	cfg.Path = "ids/products.csv"
	require.ErrorIs(t, cfg.Validate(), sources.ErrCloudCSVBucketRequired)

	cfg.Bucket = "catalog"
	require.NoError(t, cfg.Validate())
	require.Equal(t, string(sources.CloudSourceGCS), cfg.Provider)
	require.Equal(t, ',', cfg.Delimiter)

	cfg.Provider = string(sources.CloudSourceS3)
	require.ErrorIs(t, cfg.Validate(), sources.ErrCloudCSVProvider)
}

// Setup GCS bucket & credentials before running this test.
func TestCloudCSVConfig_BuildSource(t *testing.T) {
	bucket, path := os.Getenv("BUCKET"), os.Getenv("IDS_OBJECT")
	if bucket == "" || path == "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("cloud csv: BUCKET, IDS_OBJECT & GOOGLE_APPLICATION_CREDENTIALS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	src, err := sources.CloudCSVConfig{Bucket: bucket, Path: path}.BuildSource(ctx)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, src.Close(ctx))
	}()

	ids, err := src.ReadIDs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
}
