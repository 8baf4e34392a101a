package snapshotters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const LocalFileSnapshotter = "local-file-snapshotter"

const (
	ERR_SNAPSHOT_PATH_REQUIRED = "local file snapshotter: path is required"
	ERR_SNAPSHOT_KEY_REQUIRED  = "local file snapshotter: key is required"
)

var (
	ErrSnapshotPathRequired = errors.New(ERR_SNAPSHOT_PATH_REQUIRED)
	ErrSnapshotKeyRequired  = errors.New(ERR_SNAPSHOT_KEY_REQUIRED)
)

type localFileSnapshotter struct {
	path string
}

// Name of the snapshotter.
func (s localFileSnapshotter) Name() string { return LocalFileSnapshotter }

// Close closes the local file snapshotter.
func (s localFileSnapshotter) Close(ctx context.Context) error {
	// No resources to close for local file snapshotter
	return nil
}

// Snapshot writes snapshot as <path>/<key>.json, replacing any previous one atomically.
// Raw []byte snapshots are written as is, anything else is JSON encoded.
func (s localFileSnapshotter) Snapshot(ctx context.Context, key string, snapshot any) error {
	if key == "" {
		return ErrSnapshotKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshotBytes, ok := snapshot.([]byte)
	if !ok {
		b, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("snapshot %s: marshal: %w", key, err)
		}
		snapshotBytes = b
	}

	fp := s.filePath(key)
	tmp, err := os.CreateTemp(s.path, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(snapshotBytes, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot %s: write: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot %s: sync: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot %s: close: %w", key, err)
	}
	return os.Rename(tmpName, fp)
}

// Restore decodes the snapshot stored under key into into.
// It returns false, without error, when no snapshot exists.
func (s localFileSnapshotter) Restore(ctx context.Context, key string, into any) (bool, error) {
	if key == "" {
		return false, ErrSnapshotKeyRequired
	}

	b, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("restore %s: %w", key, err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return false, fmt.Errorf("restore %s: unmarshal: %w", key, err)
	}
	return true, nil
}

func (s localFileSnapshotter) filePath(key string) string {
	return filepath.Join(s.path, key+".json")
}

type LocalFileSnapshotterConfig struct {
	Path string
}

// Name of the snapshotter.
func (s LocalFileSnapshotterConfig) Name() string { return LocalFileSnapshotter }

func (s LocalFileSnapshotterConfig) BuildSnapshotter(ctx context.Context) (domain.Snapshotter, error) {
	if s.Path == "" {
		return nil, ErrSnapshotPathRequired
	}
	if err := os.MkdirAll(s.Path, 0o755); err != nil {
		return nil, fmt.Errorf("local file snapshotter: %w", err)
	}
	return &localFileSnapshotter{
		path: s.Path,
	}, nil
}
