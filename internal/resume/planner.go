package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
	"github.com/hankgalt/catalog-crawl/pkg/sinks"
)

const (
	ERR_DIR_REQUIRED       = "resume planner: output dir is required"
	ERR_INVALID_BATCH_SIZE = "resume planner: batch size must be positive"
	ERR_CHECKPOINT_RESTORE = "resume planner: checkpoint restore failed"
)

var (
	ErrDirRequired       = errors.New(ERR_DIR_REQUIRED)
	ErrInvalidBatchSize  = errors.New(ERR_INVALID_BATCH_SIZE)
	ErrCheckpointRestore = errors.New(ERR_CHECKPOINT_RESTORE)
)

// Planner computes where a crawl resumes from the state of its output directory.
type Planner struct {
	dir  string
	snap domain.Snapshotter
}

// NewPlanner returns a planner over dir. snap may be nil, in which case the
// position is always inferred from the batch files.
func NewPlanner(dir string, snap domain.Snapshotter) (*Planner, error) {
	if dir == "" {
		return nil, ErrDirRequired
	}
	return &Planner{dir: dir, snap: snap}, nil
}

// Plan returns the resume state for batchSize.
//
// Batch files are scanned from index 1 up to the first gap K+1. Every file
// before K is assumed full, so the offset is (K-1)*batchSize plus the record
// count of file K. An unreadable or non-array file K counts as zero records.
// A checkpoint that agrees with the files (same next index, offset not behind
// the files) takes precedence since it also covers IDs that failed.
func (p *Planner) Plan(ctx context.Context, batchSize int) (domain.ResumeState, error) {
	return p.plan(ctx, batchSize, nil)
}

// PlanIDs plans against a concrete ID list. A checkpoint whose last ID does
// not sit right before its offset in ids is discarded, and the offset never
// exceeds len(ids).
func (p *Planner) PlanIDs(ctx context.Context, batchSize int, ids []domain.ProductID) (domain.ResumeState, error) {
	if ids == nil {
		ids = []domain.ProductID{}
	}
	rs, err := p.plan(ctx, batchSize, ids)
	if err != nil {
		return rs, err
	}
	if rs.StartOffset > len(ids) {
		rs.StartOffset = len(ids)
	}
	return rs, nil
}

func (p *Planner) plan(ctx context.Context, batchSize int, ids []domain.ProductID) (domain.ResumeState, error) {
	if batchSize <= 0 {
		return domain.ResumeState{}, ErrInvalidBatchSize
	}

	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	last, err := p.lastBatchIndex(ctx)
	if err != nil {
		return domain.ResumeState{}, err
	}

	var inferred domain.ResumeState
	if last == 0 {
		inferred = domain.ResumeState{StartOffset: 0, NextFileIndex: 1, Source: domain.ResumeEmpty}
	} else {
		count, ok := countRecords(sinks.BatchFilePath(p.dir, last))
		src := domain.ResumeBatchFiles
		if !ok {
			l.Warn("resume planner: last batch unreadable, falling back to full-batch offset", "file-index", last)
			src = domain.ResumeDegraded
		}
		inferred = domain.ResumeState{
			StartOffset:   (last-1)*batchSize + count,
			NextFileIndex: last + 1,
			Source:        src,
		}
	}

	cp, found, err := p.checkpoint(ctx)
	if err != nil {
		l.Warn("resume planner: ignoring checkpoint", "error", err.Error())
		return inferred, nil
	}
	if !found {
		return inferred, nil
	}

	if cp.NextFileIndex != inferred.NextFileIndex || cp.NextOffset < inferred.StartOffset {
		l.Warn(
			"resume planner: checkpoint does not match batch files, ignoring",
			"checkpoint-offset", cp.NextOffset,
			"checkpoint-file-index", cp.NextFileIndex,
			"file-offset", inferred.StartOffset,
			"file-index", inferred.NextFileIndex,
		)
		return inferred, nil
	}

	if ids != nil && cp.LastID != "" {
		if cp.NextOffset == 0 || cp.NextOffset > len(ids) || ids[cp.NextOffset-1] != cp.LastID {
			l.Warn(
				"resume planner: checkpoint last id does not match id list, ignoring",
				"last-id", cp.LastID,
				"checkpoint-offset", cp.NextOffset,
			)
			return inferred, nil
		}
	}

	return domain.ResumeState{
		StartOffset:   cp.NextOffset,
		NextFileIndex: cp.NextFileIndex,
		Source:        domain.ResumeCheckpoint,
	}, nil
}

func (p *Planner) checkpoint(ctx context.Context) (domain.Checkpoint, bool, error) {
	var cp domain.Checkpoint
	if p.snap == nil {
		return cp, false, nil
	}
	found, err := p.snap.Restore(ctx, domain.CheckpointKey, &cp)
	if err != nil {
		return cp, false, fmt.Errorf("%w: %s", ErrCheckpointRestore, err.Error())
	}
	return cp, found, nil
}

// lastBatchIndex returns K, the highest index of the contiguous run batch_0001..batch_K.
func (p *Planner) lastBatchIndex(ctx context.Context) (int, error) {
	k := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, err := os.Stat(sinks.BatchFilePath(p.dir, k+1))
		if errors.Is(err, os.ErrNotExist) {
			return k, nil
		}
		if err != nil {
			return 0, fmt.Errorf("resume planner: %w", err)
		}
		k++
	}
}

// countRecords returns the number of elements of the JSON array in path.
func countRecords(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var records []json.RawMessage
	if err := json.Unmarshal(b, &records); err != nil || records == nil {
		return 0, false
	}
	return len(records), true
}
