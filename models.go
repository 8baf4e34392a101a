package catalog_crawl

import "github.com/hankgalt/catalog-crawl/pkg/domain"

// CrawlRequest is the crawl workflow state, carried across continue-as-new.
// Endpoints and secrets stay in the worker's config.
type CrawlRequest struct {
	RunID      string
	BatchSize  int // overrides the worker's batch size when > 0
	Workers    int // overrides the worker's fetch workers when > 0
	MaxBatches int // batches per workflow run before continue-as-new
	Runs       int
	Done       bool
	Totals     CrawlTotals
}

// CrawlTotals accumulates batch summaries over the whole crawl.
type CrawlTotals struct {
	Total      int
	Processed  int
	Succeeded  int
	Failed     int
	Batches    int
	NextOffset int
}

// Add folds one batch summary into the totals.
func (t *CrawlTotals) Add(s *domain.Summary) {
	if s == nil {
		return
	}
	t.Total = s.Total
	t.Processed += s.Processed
	t.Succeeded += s.Succeeded
	t.Failed += s.Failed
	t.Batches += s.Batches
	t.NextOffset = s.NextOffset
}

// CrawlBatchRequest is the input of the crawl batch activity.
type CrawlBatchRequest struct {
	RunID     string
	BatchSize int
	Workers   int
}
