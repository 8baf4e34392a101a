package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jeffail/tunny"
	"github.com/comfforts/logger"
	"golang.org/x/sync/errgroup"

	"github.com/hankgalt/catalog-crawl/internal/notify"
	"github.com/hankgalt/catalog-crawl/internal/resume"
	"github.com/hankgalt/catalog-crawl/internal/writer"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/transform"
)

// WindowFactor times the worker count caps IDs dispatched but not yet committed.
const WindowFactor = 4

const (
	ERR_INVALID_BATCH_SIZE = "crawler: batch size must be positive"
	ERR_INVALID_WORKERS    = "crawler: workers must be positive"
	ERR_NIL_SOURCE         = "crawler: id source is required"
	ERR_NIL_FETCHER        = "crawler: fetcher is required"
	ERR_NIL_PLANNER        = "crawler: resume planner is required"
	ERR_NIL_SINK           = "crawler: primary sink is required"
	ERR_NIL_FAILURE_LOG    = "crawler: failure log is required"
	ERR_POOL               = "crawler: worker pool failure"
)

var (
	ErrInvalidBatchSize = errors.New(ERR_INVALID_BATCH_SIZE)
	ErrInvalidWorkers   = errors.New(ERR_INVALID_WORKERS)
	ErrNilSource        = errors.New(ERR_NIL_SOURCE)
	ErrNilFetcher       = errors.New(ERR_NIL_FETCHER)
	ErrNilPlanner       = errors.New(ERR_NIL_PLANNER)
	ErrNilSink          = errors.New(ERR_NIL_SINK)
	ErrNilFailureLog    = errors.New(ERR_NIL_FAILURE_LOG)
	ErrPool             = errors.New(ERR_POOL)
)

// Alert messages.
const (
	AlertStarted     = "Crawl START."
	AlertFinished    = "Crawl FINISH."
	AlertInterrupted = "Crawl has been stopped by user"
	AlertCrashPrefix = "Crawl CRASH: "
)

// Fetcher looks up one raw product record.
type Fetcher interface {
	Fetch(ctx context.Context, id domain.ProductID) (domain.RawRecord, bool)
}

// Observer receives crawl counters. *stats.Recorder implements it.
type Observer interface {
	FetchSucceeded()
	FetchFailed(reason string)
	BatchFlushed(records int)
	RunElapsed(d time.Duration)
}

type Options struct {
	BatchSize   int
	Workers     int
	Source      domain.IDSource
	Fetcher     Fetcher
	Transform   func(domain.RawRecord) *domain.Product // defaults to transform.Product
	Planner     *resume.Planner
	Primary     domain.Sink
	Mirrors     []domain.Sink
	Failures    writer.FailureAppender
	Snapshotter domain.Snapshotter
	Notifier    domain.Notifier
	Observer    Observer
}

// Crawler drives one crawl: plan, dispatch, commit in ID order, summarize.
type Crawler struct {
	opts Options
}

func New(opts Options) (*Crawler, error) {
	if opts.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if opts.Workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	if opts.Source == nil {
		return nil, ErrNilSource
	}
	if opts.Fetcher == nil {
		return nil, ErrNilFetcher
	}
	if opts.Planner == nil {
		return nil, ErrNilPlanner
	}
	if opts.Primary == nil {
		return nil, ErrNilSink
	}
	if opts.Failures == nil {
		return nil, ErrNilFailureLog
	}
	if opts.Transform == nil {
		opts.Transform = transform.Product
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Crawler{opts: opts}, nil
}

// Run crawls every remaining ID.
func (c *Crawler) Run(ctx context.Context) (*domain.Summary, error) {
	return c.crawl(ctx, 0)
}

// CrawlBatches stops once maxBatches batches were flushed. Outcomes that
// arrive after the last flush are dropped and fetched again next time.
// maxBatches <= 0 means no limit.
func (c *Crawler) CrawlBatches(ctx context.Context, maxBatches int) (*domain.Summary, error) {
	return c.crawl(ctx, maxBatches)
}

type job struct {
	ctx   context.Context
	index int
	id    domain.ProductID
}

func (c *Crawler) crawl(ctx context.Context, maxBatches int) (*domain.Summary, error) {
	start := time.Now()
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	// PLANNING
	ids, err := c.opts.Source.ReadIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawler: read ids from %s: %w", c.opts.Source.Name(), err)
	}
	rs, err := c.opts.Planner.PlanIDs(ctx, c.opts.BatchSize, ids)
	if err != nil {
		return nil, fmt.Errorf("crawler: plan resume: %w", err)
	}
	pending := ids[rs.StartOffset:]

	summary := &domain.Summary{
		Total:         len(ids),
		StartOffset:   rs.StartOffset,
		NextOffset:    rs.StartOffset,
		NextFileIndex: rs.NextFileIndex,
	}
	l.Info(
		"crawler: planned",
		"total", len(ids),
		"start-offset", rs.StartOffset,
		"next-file-index", rs.NextFileIndex,
		"resume-source", string(rs.Source),
		"pending", len(pending),
	)
	if len(pending) == 0 {
		l.Info("crawler: no ids left to crawl")
		summary.Done = true
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	w, err := writer.New(writer.Options{
		BatchSize:     c.opts.BatchSize,
		StartOffset:   rs.StartOffset,
		NextFileIndex: rs.NextFileIndex,
		Primary:       c.opts.Primary,
		Mirrors:       c.opts.Mirrors,
		Failures:      c.opts.Failures,
		Snapshotter:   c.opts.Snapshotter,
		OnFlush: func(ctx context.Context, b *domain.Batch) {
			c.opts.Observer.BatchFlushed(len(b.Records))
		},
	})
	if err != nil {
		return nil, err
	}
	fill := func() {
		cnt := w.Counts()
		summary.Processed = cnt.Processed
		summary.Succeeded = cnt.Succeeded
		summary.Failed = cnt.Failed
		summary.Batches = cnt.Batches
		summary.NextOffset = cnt.NextOffset
		summary.NextFileIndex = cnt.NextFileIndex
		summary.Elapsed = time.Since(start)
	}

	// DISPATCHING
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := tunny.NewFunc(c.opts.Workers, func(payload any) any {
		j := payload.(*job)
		return c.process(j.ctx, j.index, j.id)
	})

	window := c.opts.Workers * WindowFactor
	tokens := make(chan struct{}, window)
	results := make(chan domain.FetchOutcome, window)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		for i, id := range pending {
			select {
			case tokens <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				out, err := submit(pool, &job{ctx: gctx, index: i, id: id})
				if gctx.Err() != nil {
					// abandoned, the outcome may reflect the cancellation itself
					return nil
				}
				if err != nil {
					return err
				}
				select {
				case results <- out.(domain.FetchOutcome):
				case <-gctx.Done():
				}
				return nil
			})
		}
		return nil
	})
	dispatched := make(chan error, 1)
	groupDone := make(chan struct{})
	go func() {
		dispatched <- g.Wait()
		close(groupDone)
	}()

	// releasePool closes the pool once no dispatch goroutine can submit to it.
	var closeOnce sync.Once
	releasePool := func() {
		closeOnce.Do(func() {
			go func() {
				<-groupDone
				pool.Close()
			}()
		})
	}

	// abort tears the pool down without waiting for in-flight work.
	abort := func(err error, alert string) (*domain.Summary, error) {
		cancel()
		releasePool()
		fill()
		l.Error("crawler: aborted", "error", err.Error(), "processed", summary.Processed, "next-offset", summary.NextOffset)
		c.opts.Notifier.Notify(ctx, alert)
		return summary, err
	}

	// RECORDING, in ID order
	buf := make(map[int]domain.FetchOutcome, window)
	next := 0
	stopped := false
	for next < len(pending) && !stopped {
		select {
		case <-ctx.Done():
			return abort(ctx.Err(), AlertInterrupted)
		case err := <-dispatched:
			if err != nil {
				return abort(err, AlertCrashPrefix+err.Error())
			}
			dispatched = nil
		case o := <-results:
			buf[o.Index] = o
			for {
				o, ok := buf[next]
				if !ok {
					break
				}
				if err := ctx.Err(); err != nil {
					return abort(err, AlertInterrupted)
				}
				delete(buf, next)
				if err := w.Add(ctx, o); err != nil {
					return abort(err, AlertCrashPrefix+err.Error())
				}
				if o.Success {
					c.opts.Observer.FetchSucceeded()
				} else {
					c.opts.Observer.FetchFailed(o.Reason)
				}
				next++
				<-tokens

				if maxBatches > 0 && w.Counts().Batches >= maxBatches {
					stopped = true
					break
				}
			}
		}
	}

	// DRAINING
	cancel()
	releasePool()
	done := next == len(pending)
	if done {
		if err := w.Close(ctx); err != nil {
			return abort(err, AlertCrashPrefix+err.Error())
		}
	}

	// SUMMARIZING
	fill()
	summary.Done = done
	c.opts.Observer.RunElapsed(summary.Elapsed)
	l.Info(
		"crawler: summary",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"batches", summary.Batches,
		"next-offset", summary.NextOffset,
		"done", summary.Done,
		"elapsed", summary.Elapsed.String(),
	)
	return summary, nil
}

// submit runs j on the pool. A pool that is no longer running is reported
// as ErrPool instead of a panic.
func submit(pool *tunny.Pool, j *job) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrPool, r)
		}
	}()
	return pool.Process(j), nil
}

// process is one unit of work: fetch then transform. It never fails, a
// failure is reported in the outcome.
func (c *Crawler) process(ctx context.Context, index int, id domain.ProductID) (out domain.FetchOutcome) {
	out = domain.FetchOutcome{Index: index, ID: id}
	if ctx.Err() != nil {
		out.Reason = domain.ReasonFetchFailed
		return out
	}

	raw, ok := c.opts.Fetcher.Fetch(ctx, id)
	if !ok || raw == nil {
		out.Reason = domain.ReasonFetchFailed
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out = domain.FetchOutcome{Index: index, ID: id, Reason: domain.ReasonTransformFailed}
		}
	}()
	p := c.opts.Transform(raw)
	if p == nil {
		out.Reason = domain.ReasonTransformFailed
		return out
	}
	out.Success = true
	out.Product = p
	return out
}

type nopObserver struct{}

func (nopObserver) FetchSucceeded()            {}
func (nopObserver) FetchFailed(string)         {}
func (nopObserver) BatchFlushed(int)           {}
func (nopObserver) RunElapsed(d time.Duration) {}
