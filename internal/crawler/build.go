package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/internal/config"
	"github.com/hankgalt/catalog-crawl/internal/failures"
	"github.com/hankgalt/catalog-crawl/internal/fetcher"
	"github.com/hankgalt/catalog-crawl/internal/resume"
	"github.com/hankgalt/catalog-crawl/internal/snapshotters"
	"github.com/hankgalt/catalog-crawl/internal/stats"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/sinks"
	"github.com/hankgalt/catalog-crawl/pkg/sources"
)

// CloseFunc releases everything Build opened.
type CloseFunc func(ctx context.Context) error

// BuildFunc constructs a ready crawler from configuration.
type BuildFunc func(ctx context.Context, cfg config.Config, notifier domain.Notifier) (*Crawler, CloseFunc, error)

// SourceConfig picks the ID source: a GCS object when a bucket is set, a local file otherwise.
func SourceConfig(cfg config.Config) domain.SourceConfig {
	if cfg.IDsBucket != "" {
		return sources.CloudCSVConfig{
			Provider: string(sources.CloudSourceGCS),
			Bucket:   cfg.IDsBucket,
			Path:     cfg.IDsFile,
			MaxIDs:   cfg.MaxIDs,
		}
	}
	return sources.LocalCSVConfig{Path: cfg.IDsFile, MaxIDs: cfg.MaxIDs}
}

// MirrorConfigs lists the optional mirror sinks enabled in cfg.
func MirrorConfigs(cfg config.Config) []domain.SinkConfig {
	out := []domain.SinkConfig{}
	if cfg.SQLiteFile != "" {
		out = append(out, sinks.SQLLiteSinkConfig{DBFile: cfg.SQLiteFile})
	}
	if cfg.Mongo.Enabled() {
		out = append(out, sinks.MongoSinkConfig{
			Protocol:   cfg.Mongo.Protocol,
			Host:       cfg.Mongo.Host,
			DBName:     cfg.Mongo.DBName,
			User:       cfg.Mongo.User,
			Pwd:        cfg.Mongo.Pwd,
			Params:     cfg.Mongo.Params,
			Collection: cfg.Mongo.Collection,
		})
	}
	return out
}

// Build wires the crawler and its collaborators from cfg.
func Build(ctx context.Context, cfg config.Config, notifier domain.Notifier) (*Crawler, CloseFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Crawler, CloseFunc, error) {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	srcCfg := SourceConfig(cfg)
	src, err := srcCfg.BuildSource(ctx)
	if err != nil {
		return fail(fmt.Errorf("crawler: build %s: %w", srcCfg.Name(), err))
	}
	closers = append(closers, src.Close)

	rec, err := stats.New(cfg.StatsdAddr)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return rec.Close() })

	f, err := fetcher.New(fetcher.NewHTTPClient(cfg.Timeout, cfg.Workers), fetcher.Options{
		Endpoint:          cfg.APIURL,
		MaxRetries:        cfg.MaxRetries,
		Backoff:           cfg.Backoff,
		Timeout:           cfg.Timeout,
		Headers:           cfg.Headers,
		RequestsPerSecond: cfg.RequestsPerSecond,
		OnRetry: func(id domain.ProductID, attempt int, wait time.Duration, err error) {
			cause := "transport"
			if errors.Is(err, fetcher.ErrTransientStatus) {
				cause = "status"
			}
			rec.FetchRetried(cause)
		},
	})
	if err != nil {
		return fail(err)
	}

	var (
		primary    domain.Sink
		mirrors    = []domain.Sink{}
		snap       domain.Snapshotter
		planDir    = cfg.DataDir
		failedFile = cfg.FailedFile
	)
	if cfg.DryRun {
		// scratch space for the planner and failure log, removed on close
		scratch, err := os.MkdirTemp("", "catalog-crawl-dry-run-*")
		if err != nil {
			return fail(fmt.Errorf("crawler: dry run: %w", err))
		}
		closers = append(closers, func(context.Context) error { return os.RemoveAll(scratch) })
		planDir, failedFile = scratch, filepath.Join(scratch, failures.DefaultFileName)

		noop, err := sinks.NoopSinkConfig{}.BuildSink(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(ctx context.Context) error {
			if r, ok := noop.(sinks.WrittenReporter); ok {
				batches, records := r.Written()
				l.Info("crawler: dry run discarded output", "batches", len(batches), "records", records)
			}
			return noop.Close(ctx)
		})
		primary = noop
		l.Info("crawler: dry run, output and resume disabled")
	} else {
		primary, err = sinks.LocalJSONSinkConfig{Dir: cfg.DataDir}.BuildSink(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, primary.Close)

		for _, mc := range MirrorConfigs(cfg) {
			m, err := mc.BuildSink(ctx)
			if err != nil {
				return fail(fmt.Errorf("crawler: build %s: %w", mc.Name(), err))
			}
			closers = append(closers, m.Close)
			mirrors = append(mirrors, m)
			l.Info("crawler: mirror enabled", "sink", m.Name())
		}

		snap, err = snapshotters.LocalFileSnapshotterConfig{Path: cfg.DataDir}.BuildSnapshotter(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, snap.Close)
	}

	planner, err := resume.NewPlanner(planDir, snap)
	if err != nil {
		return fail(err)
	}

	flog, err := failures.Open(failedFile)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return flog.Close() })

	c, err := New(Options{
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.Workers,
		Source:      src,
		Fetcher:     f,
		Planner:     planner,
		Primary:     primary,
		Mirrors:     mirrors,
		Failures:    flog,
		Snapshotter: snap,
		Notifier:    notifier,
		Observer:    rec,
	})
	if err != nil {
		return fail(err)
	}
	return c, closeAll, nil
}
