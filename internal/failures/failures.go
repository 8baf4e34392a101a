package failures

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

// DefaultFileName of the failure log inside the output dir.
const DefaultFileName = "failed_records.csv"

const (
	ERR_PATH_REQUIRED = "failure log: path is required"
	ERR_CLOSED        = "failure log: closed"
)

var (
	ErrPathRequired = errors.New(ERR_PATH_REQUIRED)
	ErrClosed       = errors.New(ERR_CLOSED)
)

var header = []string{"id", "error"}

// Log appends failure rows to a CSV file. The header is written once, when
// the file is created or empty. Every row is flushed before Append returns.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
}

// Open opens (or creates) the failure log at path for appending.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, ErrPathRequired
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failure log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failure log: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failure log: stat %s: %w", path, err)
	}

	l := &Log{path: path, f: f, w: csv.NewWriter(f)}
	if fi.Size() == 0 {
		if err := l.write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path of the log file.
func (l *Log) Path() string { return l.path }

// Append writes one failure row.
func (l *Log) Append(ctx context.Context, rec domain.FailureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ErrClosed
	}
	return l.write([]string{string(rec.ID), rec.Error})
}

func (l *Log) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("failure log: write: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("failure log: flush: %w", err)
	}
	return nil
}

// Close closes the log file. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadAll returns every row of the failure log at path, header excluded.
func ReadAll(path string) ([]domain.FailureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failure log: read %s: %w", path, err)
	}

	out := []domain.FailureRecord{}
	for i, row := range rows {
		if i == 0 && len(row) == 2 && row[0] == header[0] && row[1] == header[1] {
			continue
		}
		if len(row) < 2 {
			continue
		}
		out = append(out, domain.FailureRecord{ID: domain.ProductID(row[0]), Error: row[1]})
	}
	return out, nil
}
