package stats

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

// Namespace prefixes every metric name.
const Namespace = "crawl."

const (
	MetricFetchSuccess = "fetch.success"
	MetricFetchFailure = "fetch.failure"
	MetricFetchRetry   = "fetch.retry"
	MetricBatchFlushed = "batch.flushed"
	MetricBatchRecords = "batch.records"
	MetricRunElapsed   = "run.elapsed"
)

// Recorder sends crawl counters to a DataDog agent.
// The zero address yields a recorder backed by a no-op client.
type Recorder struct {
	client statsd.ClientInterface
	tags   []string
}

// New connects to the statsd agent at addr, e.g. "127.0.0.1:8125".
func New(addr string, tags ...string) (*Recorder, error) {
	if addr == "" {
		return NewWithClient(&statsd.NoOpClient{}, tags...), nil
	}
	c, err := statsd.New(addr, statsd.WithNamespace(Namespace))
	if err != nil {
		return nil, fmt.Errorf("stats: statsd client: %w", err)
	}
	return NewWithClient(c, tags...), nil
}

func NewWithClient(c statsd.ClientInterface, tags ...string) *Recorder {
	return &Recorder{client: c, tags: tags}
}

func (r *Recorder) FetchSucceeded() {
	_ = r.client.Incr(MetricFetchSuccess, r.tags, 1)
}

// FetchFailed counts a failed ID, tagged by reason.
func (r *Recorder) FetchFailed(reason string) {
	_ = r.client.Incr(MetricFetchFailure, append(r.with(), "reason:"+reason), 1)
}

func (r *Recorder) FetchRetried(status string) {
	_ = r.client.Incr(MetricFetchRetry, append(r.with(), "cause:"+status), 1)
}

func (r *Recorder) BatchFlushed(records int) {
	_ = r.client.Incr(MetricBatchFlushed, r.tags, 1)
	_ = r.client.Distribution(MetricBatchRecords, float64(records), r.tags, 1)
}

func (r *Recorder) RunElapsed(d time.Duration) {
	_ = r.client.Timing(MetricRunElapsed, d, r.tags, 1)
}

// Close flushes buffered metrics.
func (r *Recorder) Close() error {
	return r.client.Close()
}

func (r *Recorder) with() []string {
	return append(make([]string, 0, len(r.tags)+1), r.tags...)
}
