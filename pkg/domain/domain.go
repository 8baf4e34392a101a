package domain

import (
	"context"
	"time"
)

// ProductID is an opaque catalog identifier, ordered by its position in the ID source.
type ProductID string

// RawRecord is the decoded catalog API response body.
type RawRecord map[string]any

// Product is the normalized record persisted in batch files.
type Product struct {
	ID          any      `json:"id"`
	Name        any      `json:"name"`
	URLKey      any      `json:"url_key"`
	Price       any      `json:"price"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

// Failure reasons recorded in the failure log.
const (
	ReasonFetchFailed     = "fetch_failed"
	ReasonTransformFailed = "transform_failed"
)

// FetchOutcome is the result of one fetch+transform unit of work.
type FetchOutcome struct {
	Index   int // position in the dispatched ID slice
	ID      ProductID
	Success bool
	Product *Product
	Reason  string
}

// Batch is a group of products flushed together to one numbered output.
type Batch struct {
	Index   int
	Records []*Product
}

// FailureRecord is one row of the append-only failure log.
type FailureRecord struct {
	ID    ProductID
	Error string
}

// ResumeSource tells how a resume state was derived.
type ResumeSource string

const (
	ResumeEmpty      ResumeSource = "empty"
	ResumeBatchFiles ResumeSource = "batch-files"
	ResumeDegraded   ResumeSource = "degraded"
	ResumeCheckpoint ResumeSource = "checkpoint"
)

// ResumeState is recomputed every run from the output directory.
type ResumeState struct {
	StartOffset   int
	NextFileIndex int
	Source        ResumeSource
}

// CheckpointKey is the snapshot key of the resume checkpoint.
const CheckpointKey = "checkpoint"

// Checkpoint is persisted next to the batch files after every flush.
type Checkpoint struct {
	NextOffset    int       `json:"next_offset"`
	NextFileIndex int       `json:"next_file_index"`
	LastID        ProductID `json:"last_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summary reports the work done by one crawl pass.
type Summary struct {
	Total         int
	StartOffset   int
	Processed     int
	Succeeded     int
	Failed        int
	Batches       int
	NextOffset    int
	NextFileIndex int
	Elapsed       time.Duration
	Done          bool
}

// SourceConfig is a config that *knows how to build* an IDSource.
type SourceConfig interface {
	BuildSource(ctx context.Context) (IDSource, error)
	Name() string
}

// IDSource yields the ordered list of product IDs to crawl.
type IDSource interface {
	ReadIDs(ctx context.Context) ([]ProductID, error)
	Name() string
	Close(context.Context) error
}

// SinkConfig is a config that *knows how to build* a Sink.
type SinkConfig interface {
	BuildSink(ctx context.Context) (Sink, error)
	Name() string
}

// Sink writes a flushed batch to a destination, e.g., a file, a database.
type Sink interface {
	Write(ctx context.Context, b *Batch) error
	Name() string
	Close(context.Context) error
}

// SnapshotterConfig is a config that *knows how to build* a Snapshotter.
type SnapshotterConfig interface {
	BuildSnapshotter(ctx context.Context) (Snapshotter, error)
	Name() string
}

// Snapshotter persists and restores resume checkpoints.
type Snapshotter interface {
	Snapshot(ctx context.Context, key string, snapshot any) error
	Restore(ctx context.Context, key string, into any) (bool, error)
	Name() string
	Close(context.Context) error
}

// Notifier delivers fire-and-forget alerts.
type Notifier interface {
	Notify(ctx context.Context, message string)
}
