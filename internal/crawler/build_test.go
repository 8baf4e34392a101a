package crawler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hankgalt/catalog-crawl/internal/clients/sql_lite"
	"github.com/hankgalt/catalog-crawl/internal/config"
	"github.com/hankgalt/catalog-crawl/internal/crawler"
	"github.com/hankgalt/catalog-crawl/internal/failures"
	"github.com/hankgalt/catalog-crawl/internal/notify"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/sinks"
	"github.com/hankgalt/catalog-crawl/pkg/sources"
)

func TestSourceAndMirrorConfigs(t *testing.T) {
	cfg := config.Defaults()
	require.Equal(t, sources.LocalCSVSource, crawler.SourceConfig(cfg).Name())
	require.Empty(t, crawler.MirrorConfigs(cfg))

	cfg.IDsBucket = "catalog-ids"
	cfg.SQLiteFile = "mirror.db"
	cfg.Mongo.Host = "localhost:27017"
	require.Equal(t, sources.CloudCSVSource, crawler.SourceConfig(cfg).Name())

	names := []string{}
	for _, m := range crawler.MirrorConfigs(cfg) {
		names = append(names, m.Name())
	}
	require.Equal(t, []string{sinks.SQLLiteSink, sinks.MongoSink}, names)
}

// TestBuild_EndToEnd crawls a mock catalog API through the fully wired stack.
func TestBuild_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/products/")
		switch id {
		case "404":
			w.WriteHeader(http.StatusNotFound)
			return
		case "503":
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id": %s, "name": "Sản phẩm %s", "url_key": "sp-%s", "price": 1000, "description": "<p>Mô tả</p>", "images": [{"base_url": "https://img/%s.jpg"}]}`, id, id, id, id)
	}))
	defer srv.Close()

	dir := t.TempDir()
	idsFile := filepath.Join(dir, "ids.csv")
	require.NoError(t, os.WriteFile(idsFile, []byte("id\n1\n2\n404\n3\n\n503\n4\n5\n"), 0o644))

	cfg := config.Defaults()
	cfg.APIURL = srv.URL + "/products/{}"
	cfg.IDsFile = idsFile
	cfg.DataDir = filepath.Join(dir, "processed")
	cfg.FailedFile = filepath.Join(dir, "logs", failures.DefaultFileName)
	cfg.SQLiteFile = filepath.Join(dir, "mirror.db")
	cfg.BatchSize = 2
	cfg.Workers = 3
	cfg.Backoff = time.Millisecond

	ctx := testCtx(t)
	c, closeFn, err := crawler.Build(ctx, cfg, notify.Nop{})
	require.NoError(t, err)

	s, err := c.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, closeFn(ctx))

	require.True(t, s.Done)
	require.Equal(t, 7, s.Total)
	require.Equal(t, 5, s.Succeeded)
	require.Equal(t, 2, s.Failed)
	require.Equal(t, 3, s.Batches)

	b, err := os.ReadFile(sinks.BatchFilePath(cfg.DataDir, 1))
	require.NoError(t, err)
	require.Contains(t, string(b), `"name": "Sản phẩm 1"`)
	require.Contains(t, string(b), `"description": "Mô tả"`)
	require.Contains(t, string(b), `"images": [`+"\n"+`            "https://img/1.jpg"`)

	rows, err := failures.ReadAll(cfg.FailedFile)
	require.NoError(t, err)
	require.Equal(t, []domain.FailureRecord{
		{ID: "404", Error: domain.ReasonFetchFailed},
		{ID: "503", Error: domain.ReasonFetchFailed},
	}, rows)

	db, err := sqllite.NewSQLLiteDBClient(cfg.SQLiteFile)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close(ctx)) }()
	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// second build resumes past everything
	c, closeFn, err = crawler.Build(ctx, cfg, notify.Nop{})
	require.NoError(t, err)
	s, err = c.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, closeFn(ctx))
	require.Equal(t, 0, s.Processed)
	require.Equal(t, 7, s.StartOffset)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Workers = 0
	_, _, err := crawler.Build(testCtx(t), cfg, nil)
	require.ErrorIs(t, err, config.ErrInvalidWorkers)

	cfg = config.Defaults()
	cfg.IDsFile = filepath.Join(t.TempDir(), "missing.csv")
	_, _, err = crawler.Build(testCtx(t), cfg, nil)
	require.Error(t, err)
}

func TestBuild_DryRun(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/products/")
		fmt.Fprintf(w, `{"id": %s, "name": "p%s"}`, id, id)
	}))
	defer srv.Close()

	dir := t.TempDir()
	idsFile := filepath.Join(dir, "ids.csv")
	require.NoError(t, os.WriteFile(idsFile, []byte("id\n1\n2\n3\n4\n5\n"), 0o644))

	cfg := config.Defaults()
	cfg.APIURL = srv.URL + "/products/{}"
	cfg.IDsFile = idsFile
	cfg.DataDir = filepath.Join(dir, "processed")
	cfg.FailedFile = filepath.Join(dir, "logs", failures.DefaultFileName)
	cfg.SQLiteFile = filepath.Join(dir, "mirror.db")
	cfg.BatchSize = 2
	cfg.Workers = 2
	cfg.DryRun = true

	ctx := testCtx(t)
	for run := 1; run <= 2; run++ {
		c, closeFn, err := crawler.Build(ctx, cfg, notify.Nop{})
		require.NoError(t, err)
		s, err := c.Run(ctx)
		require.NoError(t, err)
		require.NoError(t, closeFn(ctx))

		// no resume, every run starts over
		require.True(t, s.Done)
		require.Equal(t, 0, s.StartOffset)
		require.Equal(t, 5, s.Succeeded)
		require.Equal(t, 3, s.Batches)
		require.Equal(t, int32(5*run), hits.Load())
	}

	require.NoDirExists(t, cfg.DataDir)
	require.NoFileExists(t, cfg.FailedFile)
	require.NoFileExists(t, cfg.SQLiteFile)
}
