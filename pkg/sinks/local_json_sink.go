package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const LocalJSONSink = "local-json-sink"

// BatchFilePattern names batch files; indices start at 1.
const BatchFilePattern = "batch_%04d.json"

const (
	ERR_LOCAL_JSON_DIR_REQUIRED = "local json sink: output dir is required"
	ERR_LOCAL_JSON_INVALID_IDX  = "local json sink: batch index must be positive"
	ERR_LOCAL_JSON_NIL_BATCH    = "local json sink: nil batch"
)

var (
	ErrLocalJSONDirRequired = errors.New(ERR_LOCAL_JSON_DIR_REQUIRED)
	ErrLocalJSONInvalidIdx  = errors.New(ERR_LOCAL_JSON_INVALID_IDX)
	ErrLocalJSONNilBatch    = errors.New(ERR_LOCAL_JSON_NIL_BATCH)
)

// BatchFileName returns the file name for batch index i.
func BatchFileName(i int) string {
	return fmt.Sprintf(BatchFilePattern, i)
}

// BatchFilePath returns the full path of batch index i under dir.
func BatchFilePath(dir string, i int) string {
	return filepath.Join(dir, BatchFileName(i))
}

// EncodeBatch renders records as a 4-space indented JSON array with
// non-ASCII and HTML characters kept literal.
func EncodeBatch(records []*domain.Product) ([]byte, error) {
	if records == nil {
		records = []*domain.Product{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Local JSON batch file sink.
type localJSONSink struct {
	dir string
}

// Name returns the name of the local json sink.
func (s *localJSONSink) Name() string { return LocalJSONSink }

// Write writes the batch to <dir>/batch_NNNN.json through a temp file and rename,
// so a crash never leaves a truncated batch file behind.
func (s *localJSONSink) Write(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return ErrLocalJSONNilBatch
	}
	if b.Index <= 0 {
		return ErrLocalJSONInvalidIdx
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeBatch(b.Records)
	if err != nil {
		return fmt.Errorf("local json sink: encode batch %d: %w", b.Index, err)
	}

	fp := BatchFilePath(s.dir, b.Index)
	tmp, err := os.CreateTemp(s.dir, "."+BatchFileName(b.Index)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("local json sink: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("local json sink: write %s: %w", fp, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("local json sink: sync %s: %w", fp, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("local json sink: close %s: %w", fp, err)
	}
	if err := os.Rename(tmpName, fp); err != nil {
		return fmt.Errorf("local json sink: rename %s: %w", fp, err)
	}

	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}
	l.Debug("local json sink: batch written", "file", fp, "file-index", b.Index, "records", len(b.Records))
	return nil
}

// Close closes the local json sink.
func (s *localJSONSink) Close(ctx context.Context) error {
	return nil
}

// Local JSON sink config.
type LocalJSONSinkConfig struct {
	Dir string
}

// Name of the sink.
func (c LocalJSONSinkConfig) Name() string { return LocalJSONSink }

// BuildSink creates the output dir if needed and returns the sink.
func (c LocalJSONSinkConfig) BuildSink(ctx context.Context) (domain.Sink, error) {
	if c.Dir == "" {
		return nil, ErrLocalJSONDirRequired
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("local json sink: %w", err)
	}
	return &localJSONSink{dir: c.Dir}, nil
}
