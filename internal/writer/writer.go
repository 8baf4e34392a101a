package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	ERR_INVALID_BATCH_SIZE = "batch writer: batch size must be positive"
	ERR_INVALID_FILE_INDEX = "batch writer: next file index must be positive"
	ERR_NIL_SINK           = "batch writer: primary sink is required"
	ERR_NIL_FAILURE_LOG    = "batch writer: failure log is required"
	ERR_CLOSED             = "batch writer: closed"
)

var (
	ErrInvalidBatchSize = errors.New(ERR_INVALID_BATCH_SIZE)
	ErrInvalidFileIndex = errors.New(ERR_INVALID_FILE_INDEX)
	ErrNilSink          = errors.New(ERR_NIL_SINK)
	ErrNilFailureLog    = errors.New(ERR_NIL_FAILURE_LOG)
	ErrClosed           = errors.New(ERR_CLOSED)
)

// FailureAppender receives one row per failed ID.
type FailureAppender interface {
	Append(ctx context.Context, rec domain.FailureRecord) error
}

// Options configure a Writer.
type Options struct {
	BatchSize     int
	StartOffset   int // offset of the first ID that will be added
	NextFileIndex int
	Primary       domain.Sink
	Mirrors       []domain.Sink
	Failures      FailureAppender
	Snapshotter   domain.Snapshotter // optional, records a checkpoint after each flush
	// OnFlush, if set, is called after a batch reached the primary sink.
	OnFlush func(ctx context.Context, b *domain.Batch)
}

// Counts is a running tally of what the writer committed.
type Counts struct {
	Processed     int
	Succeeded     int
	Failed        int
	Batches       int
	NextOffset    int
	NextFileIndex int
}

// Writer accumulates successful records into fixed-size batches and writes
// failure rows. Outcomes must be added in ID order; a Writer is meant to be
// driven by a single goroutine.
type Writer struct {
	opts    Options
	records []*domain.Product
	counts  Counts
	lastID  domain.ProductID
	dirty   bool // offset advanced since the last checkpoint
	closed  bool
}

// New returns a writer that starts numbering batches at opts.NextFileIndex.
func New(opts Options) (*Writer, error) {
	if opts.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if opts.NextFileIndex <= 0 {
		return nil, ErrInvalidFileIndex
	}
	if opts.Primary == nil {
		return nil, ErrNilSink
	}
	if opts.Failures == nil {
		return nil, ErrNilFailureLog
	}
	return &Writer{
		opts:    opts,
		records: make([]*domain.Product, 0, opts.BatchSize),
		counts: Counts{
			NextOffset:    opts.StartOffset,
			NextFileIndex: opts.NextFileIndex,
		},
	}, nil
}

// Counts returns the current tally.
func (w *Writer) Counts() Counts { return w.counts }

// Pending is the number of buffered, unflushed records.
func (w *Writer) Pending() int { return len(w.records) }

// Add commits one outcome. A success is buffered and flushed once the batch
// is full; a failure is appended to the failure log right away.
func (w *Writer) Add(ctx context.Context, o domain.FetchOutcome) error {
	if w.closed {
		return ErrClosed
	}

	if o.Success && o.Product != nil {
		w.records = append(w.records, o.Product)
		w.counts.Succeeded++
	} else {
		reason := o.Reason
		if reason == "" {
			reason = domain.ReasonFetchFailed
		}
		if err := w.opts.Failures.Append(ctx, domain.FailureRecord{ID: o.ID, Error: reason}); err != nil {
			return err
		}
		w.counts.Failed++
	}
	w.counts.Processed++
	w.counts.NextOffset++
	w.lastID = o.ID
	w.dirty = true

	if len(w.records) >= w.opts.BatchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes buffered records as the next numbered batch. No-op when empty.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.records) == 0 {
		return nil
	}

	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	b := &domain.Batch{Index: w.counts.NextFileIndex, Records: w.records}
	if err := w.opts.Primary.Write(ctx, b); err != nil {
		return fmt.Errorf("batch writer: flush batch %d: %w", b.Index, err)
	}
	w.records = make([]*domain.Product, 0, w.opts.BatchSize)
	w.counts.NextFileIndex++
	w.counts.Batches++

	l.Info("batch writer: batch flushed", "file-index", b.Index, "records", len(b.Records), "next-offset", w.counts.NextOffset)

	if err := w.checkpoint(ctx); err != nil {
		return err
	}

	for _, m := range w.opts.Mirrors {
		if err := m.Write(ctx, b); err != nil {
			l.Error("batch writer: mirror write failed", "sink", m.Name(), "file-index", b.Index, "error", err.Error())
		}
	}

	if w.opts.OnFlush != nil {
		w.opts.OnFlush(ctx, b)
	}
	return nil
}

// Close flushes the remainder as a final, possibly short, batch and records
// a last checkpoint so trailing failures are not retried.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	if err := w.Flush(ctx); err != nil {
		return err
	}
	if err := w.checkpoint(ctx); err != nil {
		return err
	}
	w.closed = true
	return nil
}

func (w *Writer) checkpoint(ctx context.Context) error {
	if w.opts.Snapshotter == nil || !w.dirty {
		return nil
	}
	cp := domain.Checkpoint{
		NextOffset:    w.counts.NextOffset,
		NextFileIndex: w.counts.NextFileIndex,
		LastID:        w.lastID,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := w.opts.Snapshotter.Snapshot(ctx, domain.CheckpointKey, cp); err != nil {
		return fmt.Errorf("batch writer: checkpoint: %w", err)
	}
	w.dirty = false
	return nil
}
