package crawler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comfforts/logger"
	"github.com/stretchr/testify/require"

	"github.com/hankgalt/catalog-crawl/internal/crawler"
	"github.com/hankgalt/catalog-crawl/internal/failures"
	"github.com/hankgalt/catalog-crawl/internal/resume"
	"github.com/hankgalt/catalog-crawl/internal/snapshotters"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/sinks"
)

type sliceSource struct{ ids []domain.ProductID }

func (s sliceSource) ReadIDs(ctx context.Context) ([]domain.ProductID, error) { return s.ids, nil }
func (s sliceSource) Name() string                                            { return "slice-source" }
func (s sliceSource) Close(ctx context.Context) error                         { return nil }

func makeIDs(n int) []domain.ProductID {
	ids := make([]domain.ProductID, n)
	for i := range ids {
		ids[i] = domain.ProductID(strconv.Itoa(i + 1))
	}
	return ids
}

// fakeFetcher sleeps a random short time, fails selected ids and tracks concurrency.
type fakeFetcher struct {
	fail     func(id int) bool
	block    func(id int) bool
	delay    time.Duration // fixed fetch time, random when zero
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, id domain.ProductID) (domain.RawRecord, bool) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	v, _ := strconv.Atoi(string(id))
	if f.block != nil && f.block(v) {
		<-ctx.Done()
		return nil, false
	}

	d := f.delay
	if d == 0 {
		d = time.Duration(rand.Intn(3000)) * time.Microsecond
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, false
	}
	if f.fail != nil && f.fail(v) {
		return nil, false
	}
	return domain.RawRecord{"id": string(id), "name": "p" + string(id), "images": []any{}}, true
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type countingObserver struct {
	succeeded, failed, flushed atomic.Int32
	onFlush                    func(n int32)
}

func (o *countingObserver) FetchSucceeded()          { o.succeeded.Add(1) }
func (o *countingObserver) FetchFailed(string)       { o.failed.Add(1) }
func (o *countingObserver) RunElapsed(time.Duration) {}
func (o *countingObserver) BatchFlushed(int) {
	n := o.flushed.Add(1)
	if o.onFlush != nil {
		o.onFlush(n)
	}
}

type env struct {
	dir      string
	log      *failures.Log
	notifier *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	log, err := failures.Open(filepath.Join(dir, failures.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return &env{dir: dir, log: log, notifier: &recordingNotifier{}}
}

func (e *env) crawler(t *testing.T, ids []domain.ProductID, f crawler.Fetcher, batchSize, workers int, obs crawler.Observer) *crawler.Crawler {
	t.Helper()
	ctx := context.Background()
	primary, err := sinks.LocalJSONSinkConfig{Dir: e.dir}.BuildSink(ctx)
	require.NoError(t, err)
	snap, err := snapshotters.LocalFileSnapshotterConfig{Path: e.dir}.BuildSnapshotter(ctx)
	require.NoError(t, err)
	planner, err := resume.NewPlanner(e.dir, snap)
	require.NoError(t, err)

	c, err := crawler.New(crawler.Options{
		BatchSize:   batchSize,
		Workers:     workers,
		Source:      sliceSource{ids: ids},
		Fetcher:     f,
		Planner:     planner,
		Primary:     primary,
		Failures:    e.log,
		Snapshotter: snap,
		Notifier:    e.notifier,
		Observer:    obs,
	})
	require.NoError(t, err)
	return c
}

func (e *env) batchIDs(t *testing.T) [][]string {
	t.Helper()
	out := [][]string{}
	for i := 1; ; i++ {
		b, err := os.ReadFile(sinks.BatchFilePath(e.dir, i))
		if os.IsNotExist(err) {
			return out
		}
		require.NoError(t, err)
		var recs []domain.Product
		require.NoError(t, json.Unmarshal(b, &recs))
		ids := []string{}
		for _, r := range recs {
			ids = append(ids, r.ID.(string))
		}
		out = append(out, ids)
	}
}

func expectedBatches(n, batchSize int, fail func(int) bool) [][]string {
	out := [][]string{}
	cur := []string{}
	for i := 1; i <= n; i++ {
		if fail != nil && fail(i) {
			continue
		}
		cur = append(cur, strconv.Itoa(i))
		if len(cur) == batchSize {
			out = append(out, cur)
			cur = []string{}
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return logger.WithLogger(ctx, logger.GetSlogLogger())
}

func TestNew_Validation(t *testing.T) {
	_, err := crawler.New(crawler.Options{})
	require.ErrorIs(t, err, crawler.ErrInvalidBatchSize)
	_, err = crawler.New(crawler.Options{BatchSize: 1})
	require.ErrorIs(t, err, crawler.ErrInvalidWorkers)
	_, err = crawler.New(crawler.Options{BatchSize: 1, Workers: 1})
	require.ErrorIs(t, err, crawler.ErrNilSource)
	_, err = crawler.New(crawler.Options{BatchSize: 1, Workers: 1, Source: sliceSource{}})
	require.ErrorIs(t, err, crawler.ErrNilFetcher)
	_, err = crawler.New(crawler.Options{BatchSize: 1, Workers: 1, Source: sliceSource{}, Fetcher: &fakeFetcher{}})
	require.ErrorIs(t, err, crawler.ErrNilPlanner)
}

func TestCrawler_OrderedBatches(t *testing.T) {
	e := newEnv(t)
	fail := func(id int) bool { return id%7 == 0 }
	f := &fakeFetcher{fail: fail}
	obs := &countingObserver{}

	s, err := e.crawler(t, makeIDs(53), f, 5, 6, obs).Run(testCtx(t))
	require.NoError(t, err)

	require.True(t, s.Done)
	require.Equal(t, 53, s.Total)
	require.Equal(t, 0, s.StartOffset)
	require.Equal(t, 53, s.Processed)
	require.Equal(t, 46, s.Succeeded)
	require.Equal(t, 7, s.Failed)
	require.Equal(t, 10, s.Batches)
	require.Equal(t, 53, s.NextOffset)
	require.Equal(t, 11, s.NextFileIndex)

	require.Equal(t, expectedBatches(53, 5, fail), e.batchIDs(t))
	require.Equal(t, int32(46), obs.succeeded.Load())
	require.Equal(t, int32(7), obs.failed.Load())
	require.Equal(t, int32(10), obs.flushed.Load())

	rows, err := failures.ReadAll(e.log.Path())
	require.NoError(t, err)
	want := []domain.FailureRecord{}
	for _, id := range []string{"7", "14", "21", "28", "35", "42", "49"} {
		want = append(want, domain.FailureRecord{ID: domain.ProductID(id), Error: domain.ReasonFetchFailed})
	}
	require.Equal(t, want, rows)
	require.Empty(t, e.notifier.messages())
}

func TestCrawler_Idempotent(t *testing.T) {
	e := newEnv(t)
	ids := makeIDs(12)

	_, err := e.crawler(t, ids, &fakeFetcher{}, 4, 3, nil).Run(testCtx(t))
	require.NoError(t, err)

	f := &fakeFetcher{}
	s, err := e.crawler(t, ids, f, 4, 3, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.True(t, s.Done)
	require.Equal(t, 0, s.Processed)
	require.Equal(t, 12, s.StartOffset)
	require.Equal(t, 4, s.NextFileIndex)
	require.Equal(t, int32(0), f.calls.Load())
}

func TestCrawler_ConcurrencyBound(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{}

	_, err := e.crawler(t, makeIDs(200), f, 50, 4, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, int32(200), f.calls.Load())
	require.LessOrEqual(t, f.maxSeen.Load(), int32(4))
	require.Greater(t, f.maxSeen.Load(), int32(0))
}

func TestCrawler_EmptyIDs(t *testing.T) {
	e := newEnv(t)
	f := &fakeFetcher{}
	s, err := e.crawler(t, nil, f, 4, 2, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.True(t, s.Done)
	require.Equal(t, 0, s.Total)
	require.Equal(t, int32(0), f.calls.Load())
}

func TestCrawler_InterruptedThenResumed(t *testing.T) {
	e := newEnv(t)
	ids := makeIDs(20)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	obs := &countingObserver{onFlush: func(n int32) {
		if n == 2 {
			cancel()
		}
	}}
	f := &fakeFetcher{block: func(id int) bool { return id > 12 }}

	s, err := e.crawler(t, ids, f, 5, 3, obs).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, s)
	require.False(t, s.Done)
	require.Equal(t, 2, s.Batches)
	require.Equal(t, []string{crawler.AlertInterrupted}, e.notifier.messages())

	// only full batches on disk, ids 11 and 12 were buffered and dropped
	require.Equal(t, expectedBatches(10, 5, nil), e.batchIDs(t))
	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	for _, en := range entries {
		require.NotContains(t, en.Name(), ".tmp")
	}

	f2 := &fakeFetcher{}
	s, err = e.crawler(t, ids, f2, 5, 3, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.True(t, s.Done)
	require.Equal(t, 10, s.StartOffset)
	require.Equal(t, int32(10), f2.calls.Load())
	require.Equal(t, expectedBatches(20, 5, nil), e.batchIDs(t))
}

func TestCrawler_CrawlBatches(t *testing.T) {
	e := newEnv(t)
	ids := makeIDs(23)
	fail := func(id int) bool { return id == 4 }

	s, err := e.crawler(t, ids, &fakeFetcher{fail: fail}, 3, 4, nil).CrawlBatches(testCtx(t), 2)
	require.NoError(t, err)
	require.False(t, s.Done)
	require.Equal(t, 2, s.Batches)
	require.Equal(t, 7, s.NextOffset)
	require.Equal(t, 3, s.NextFileIndex)

	for i := 0; i < 10 && !s.Done; i++ {
		s, err = e.crawler(t, ids, &fakeFetcher{fail: fail}, 3, 4, nil).CrawlBatches(testCtx(t), 2)
		require.NoError(t, err)
	}
	require.True(t, s.Done)
	require.Equal(t, expectedBatches(23, 3, fail), e.batchIDs(t))

	rows, err := failures.ReadAll(e.log.Path())
	require.NoError(t, err)
	require.Equal(t, []domain.FailureRecord{{ID: "4", Error: domain.ReasonFetchFailed}}, rows)
}

// TestCrawler_CrawlBatchesStopsWithFetchesInFlight stops after every batch
// while most of the window is still queued on the pool.
func TestCrawler_CrawlBatchesStopsWithFetchesInFlight(t *testing.T) {
	e := newEnv(t)
	ids := makeIDs(400)
	fail := func(id int) bool { return id%11 == 0 }
	workers := 8

	runs := 0
	var s *domain.Summary
	for !(s != nil && s.Done) {
		require.Less(t, runs, 120)
		f := &fakeFetcher{fail: fail, delay: 2 * time.Millisecond}
		var err error
		s, err = e.crawler(t, ids, f, 5, workers, nil).CrawlBatches(testCtx(t), 1)
		require.NoError(t, err)
		require.LessOrEqual(t, f.maxSeen.Load(), int32(workers))
		if !s.Done {
			require.Equal(t, 1, s.Batches)
		}
		runs++
	}

	require.Equal(t, expectedBatches(400, 5, fail), e.batchIDs(t))
	require.Empty(t, e.notifier.messages())

	rows, err := failures.ReadAll(e.log.Path())
	require.NoError(t, err)
	require.Len(t, rows, 400/11)

	// nothing left to fetch
	f := &fakeFetcher{}
	s, err = e.crawler(t, ids, f, 5, workers, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.True(t, s.Done)
	require.Equal(t, int32(0), f.calls.Load())
}

func TestCrawler_TransformFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	primary, err := sinks.LocalJSONSinkConfig{Dir: e.dir}.BuildSink(ctx)
	require.NoError(t, err)
	planner, err := resume.NewPlanner(e.dir, nil)
	require.NoError(t, err)

	c, err := crawler.New(crawler.Options{
		BatchSize: 10,
		Workers:   2,
		Source:    sliceSource{ids: makeIDs(4)},
		Fetcher:   &fakeFetcher{},
		Planner:   planner,
		Primary:   primary,
		Failures:  e.log,
		Transform: func(raw domain.RawRecord) *domain.Product {
			switch raw["id"] {
			case "2":
				return nil
			case "3":
				panic("bad record")
			}
			return &domain.Product{ID: raw["id"], Images: []string{}}
		},
	})
	require.NoError(t, err)

	s, err := c.Run(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 2, s.Succeeded)
	require.Equal(t, 2, s.Failed)
	require.Equal(t, [][]string{{"1", "4"}}, e.batchIDs(t))

	rows, err := failures.ReadAll(e.log.Path())
	require.NoError(t, err)
	require.Equal(t, []domain.FailureRecord{
		{ID: "2", Error: domain.ReasonTransformFailed},
		{ID: "3", Error: domain.ReasonTransformFailed},
	}, rows)
}

type brokenSink struct{}

func (brokenSink) Name() string                                     { return "broken-sink" }
func (brokenSink) Write(ctx context.Context, b *domain.Batch) error { return errors.New("disk full") }
func (brokenSink) Close(ctx context.Context) error                  { return nil }

func TestCrawler_SinkErrorAborts(t *testing.T) {
	e := newEnv(t)
	planner, err := resume.NewPlanner(e.dir, nil)
	require.NoError(t, err)

	c, err := crawler.New(crawler.Options{
		BatchSize: 2,
		Workers:   2,
		Source:    sliceSource{ids: makeIDs(10)},
		Fetcher:   &fakeFetcher{},
		Planner:   planner,
		Primary:   brokenSink{},
		Failures:  e.log,
		Notifier:  e.notifier,
	})
	require.NoError(t, err)

	_, err = c.Run(testCtx(t))
	require.ErrorContains(t, err, "disk full")
	msgs := e.notifier.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], crawler.AlertCrashPrefix)
}

func TestCrawler_ResumeFromExistingFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// a previous run without checkpoints left 1 full and 1 short batch
	primary, err := sinks.LocalJSONSinkConfig{Dir: e.dir}.BuildSink(ctx)
	require.NoError(t, err)
	for i, ids := range [][]int{{1, 2, 3}, {4}} {
		b := &domain.Batch{Index: i + 1}
		for _, id := range ids {
			b.Records = append(b.Records, &domain.Product{ID: fmt.Sprint(id), Images: []string{}})
		}
		require.NoError(t, primary.Write(ctx, b))
	}

	f := &fakeFetcher{}
	s, err := e.crawler(t, makeIDs(8), f, 3, 2, nil).Run(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, 4, s.StartOffset)
	require.Equal(t, int32(4), f.calls.Load())
	require.Equal(t, [][]string{{"1", "2", "3"}, {"4"}, {"5", "6", "7"}, {"8"}}, e.batchIDs(t))
}
