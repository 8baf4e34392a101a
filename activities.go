package catalog_crawl

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/hankgalt/catalog-crawl/internal/config"
	"github.com/hankgalt/catalog-crawl/internal/crawler"
	"github.com/hankgalt/catalog-crawl/internal/notify"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	CrawlBatchActivityName = "CrawlBatchActivity"
	AlertActivityName      = "AlertActivity"
)

// DefaultHeartbeatInterval is used when the activity has no heartbeat timeout.
const DefaultHeartbeatInterval = 10 * time.Second

// Error messages used throughout the activities
const (
	ERR_MISSING_CRAWLER_BUILDER = "error missing crawler builder"
	ERR_INVALID_CONFIG          = "error invalid crawl config"
	ERR_BUILDING_CRAWLER        = "error building crawler"
	ERR_CRAWLING_BATCH          = "error crawling batch"
)

var (
	ErrMissingCrawlerBuilder = errors.New(ERR_MISSING_CRAWLER_BUILDER)
)

var (
	ErrorMissingCrawlerBuilder = temporal.NewApplicationErrorWithCause(ERR_MISSING_CRAWLER_BUILDER, ERR_MISSING_CRAWLER_BUILDER, ErrMissingCrawlerBuilder)
)

// Activities hold the worker side of a crawl: the config with endpoints and
// credentials, the crawler factory and the alert channel.
type Activities struct {
	cfg      config.Config
	build    crawler.BuildFunc
	notifier domain.Notifier
}

// NewActivities returns crawl activities. A nil build uses crawler.Build and
// a nil notifier posts to the configured webhook.
func NewActivities(cfg config.Config, build crawler.BuildFunc, notifier domain.Notifier) *Activities {
	if build == nil {
		build = crawler.Build
	}
	if notifier == nil {
		notifier = notify.NewWebhook(cfg.WebhookURL, nil)
	}
	return &Activities{
		cfg:      cfg,
		build:    build,
		notifier: notifier,
	}
}

// CrawlBatchActivity crawls until one more batch is flushed or the ID list is
// exhausted. Resume state is re-planned from the output directory every time,
// so a retried attempt picks up where the last flush left off.
func (a *Activities) CrawlBatchActivity(ctx context.Context, req *CrawlBatchRequest) (*domain.Summary, error) {
	l := activity.GetLogger(ctx)
	l.Debug("CrawlBatchActivity - started", "run-id", req.RunID, "batch-size", req.BatchSize, "workers", req.Workers)

	if a.build == nil {
		l.Error(ERR_MISSING_CRAWLER_BUILDER)
		return nil, ErrorMissingCrawlerBuilder
	}

	cfg := a.cfg
	if req.BatchSize > 0 {
		cfg.BatchSize = req.BatchSize
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if err := cfg.Validate(); err != nil {
		l.Error(ERR_INVALID_CONFIG, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_INVALID_CONFIG, ERR_INVALID_CONFIG, err)
	}

	// alerts are sent by the workflow
	c, closeFn, err := a.build(ctx, cfg, notify.Nop{})
	if err != nil {
		l.Error(ERR_BUILDING_CRAWLER, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_BUILDING_CRAWLER, ERR_BUILDING_CRAWLER, err)
	}
	defer func() {
		if err := closeFn(context.WithoutCancel(ctx)); err != nil {
			l.Error("CrawlBatchActivity - error closing crawler", "error", err.Error())
		}
	}()

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go heartbeat(hbCtx, heartbeatInterval(ctx))

	s, err := c.CrawlBatches(ctx, 1)
	if err != nil {
		l.Error(ERR_CRAWLING_BATCH, "error", err.Error())
		return nil, temporal.NewApplicationErrorWithCause(ERR_CRAWLING_BATCH, ERR_CRAWLING_BATCH, err)
	}

	l.Debug(
		"CrawlBatchActivity - done",
		"run-id", req.RunID,
		"processed", s.Processed,
		"next-offset", s.NextOffset,
		"next-file-index", s.NextFileIndex,
		"done", s.Done,
	)
	return s, nil
}

// AlertActivity delivers message on the alert channel. Delivery failures are
// logged by the notifier and never fail the activity.
func (a *Activities) AlertActivity(ctx context.Context, message string) error {
	l := activity.GetLogger(ctx)
	l.Debug("AlertActivity - started", "message", message)

	if a.notifier != nil {
		a.notifier.Notify(ctx, message)
	}
	return nil
}

func heartbeatInterval(ctx context.Context) time.Duration {
	if d := activity.GetInfo(ctx).HeartbeatTimeout; d > 0 {
		return d / 2
	}
	return DefaultHeartbeatInterval
}

func heartbeat(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			activity.RecordHeartbeat(ctx)
		}
	}
}
