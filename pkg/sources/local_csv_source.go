package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	LocalCSVSource = "local-csv-source"
)

const (
	ERR_LOCAL_CSV_PATH_REQUIRED = "local csv: path is required"
)

var (
	ErrLocalCSVPathRequired = errors.New(ERR_LOCAL_CSV_PATH_REQUIRED)
)

// Local CSV ID source.
type localCSVSource struct {
	path      string
	delimiter rune
	maxIDs    int
}

// Name of the source.
func (s *localCSVSource) Name() string { return LocalCSVSource }

// Close closes the local CSV source.
func (s *localCSVSource) Close(ctx context.Context) error {
	// No resources to close for local CSV source
	return nil
}

// ReadIDs reads the ordered list of product IDs from the local file.
func (s *localCSVSource) ReadIDs(ctx context.Context) ([]domain.ProductID, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("local csv: open: %w", err)
	}
	defer f.Close()

	ids, err := ReadIDs(ctx, f, s.delimiter, s.maxIDs)
	if err != nil {
		return nil, fmt.Errorf("local csv: %s: %w", s.path, err)
	}

	l, lErr := logger.LoggerFromContext(ctx)
	if lErr != nil {
		l = logger.GetSlogLogger()
	}
	l.Debug("local csv: ids loaded", "path", s.path, "count", len(ids))

	return ids, nil
}

// Local CSV source config.
type LocalCSVConfig struct {
	Path      string
	Delimiter rune // e.g., ',', '|'
	MaxIDs    int  // 0 reads all rows
}

// Name of the source.
func (c LocalCSVConfig) Name() string { return LocalCSVSource }

// BuildSource builds a local CSV ID source from the config.
func (c LocalCSVConfig) BuildSource(ctx context.Context) (domain.IDSource, error) {
	if c.Path == "" {
		return nil, ErrLocalCSVPathRequired
	}
	if _, err := os.Stat(c.Path); err != nil {
		return nil, fmt.Errorf("local csv: stat: %w", err)
	}

	delim := c.Delimiter
	if delim == 0 {
		delim = ',' // default
	}

	return &localCSVSource{
		path:      c.Path,
		delimiter: delim,
		maxIDs:    c.MaxIDs,
	}, nil
}

// ReadIDs reads product IDs from CSV data. The first row is a header and is skipped.
// The first column of every following row is the ID; blank IDs are skipped.
// maxIDs > 0 stops reading once that many IDs are collected.
func ReadIDs(ctx context.Context, r io.Reader, delimiter rune, maxIDs int) ([]domain.ProductID, error) {
	csvReader := csv.NewReader(r)
	csvReader.Comma = delimiter
	csvReader.FieldsPerRecord = -1
	csvReader.ReuseRecord = true

	// header
	if _, err := csvReader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []domain.ProductID{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	ids := []domain.ProductID{}
	for {
		// allow cancellation
		select {
		case <-ctx.Done():
			return ids, ctx.Err()
		default:
		}

		rec, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return ids, fmt.Errorf("read row %d: %w", len(ids)+2, err)
		}
		if len(rec) == 0 {
			continue
		}

		id := strings.TrimSpace(rec[0])
		if id == "" {
			continue
		}
		ids = append(ids, domain.ProductID(id))

		if maxIDs > 0 && len(ids) >= maxIDs {
			break
		}
	}

	return ids, nil
}
