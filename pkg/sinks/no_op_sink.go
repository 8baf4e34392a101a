package sinks

import (
	"context"
	"sync"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	NoopSink = "noop-sink"
)

// WrittenReporter is implemented by sinks that remember what they were given.
type WrittenReporter interface {
	Written() (batches []int, records int)
}

// No operation sink for dry runs and tests. It remembers what it was given.
type noopSink struct {
	mu      sync.Mutex
	batches []int
	records int
}

// Name returns the name of the noop sink.
func (s *noopSink) Name() string { return NoopSink }

// Write records the batch index and count and drops the data.
func (s *noopSink) Write(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b.Index)
	s.records += len(b.Records)
	return nil
}

// Written returns the batch indices and total record count seen so far.
func (s *noopSink) Written() ([]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...), s.records
}

// Close closes the noop sink.
func (s *noopSink) Close(ctx context.Context) error {
	return nil
}

// No operation sink config for dry runs and tests.
type NoopSinkConfig struct{}

// Name of the sink.
func (c NoopSinkConfig) Name() string { return NoopSink }

// BuildSink returns a noop sink.
func (c NoopSinkConfig) BuildSink(ctx context.Context) (domain.Sink, error) {
	return &noopSink{}, nil
}
