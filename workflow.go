package catalog_crawl

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/hankgalt/catalog-crawl/internal/config"
	"github.com/hankgalt/catalog-crawl/internal/crawler"
)

const (
	ERR_INVALID_CRAWL_REQUEST = "error invalid crawl request"
)

var (
	ErrInvalidCrawlRequest = errors.New(ERR_INVALID_CRAWL_REQUEST)
)

// WorkflowBatchLimit caps MaxBatches to keep a run's history small.
const WorkflowBatchLimit = 100

// CrawlWorkflow crawls the catalog one batch activity at a time until the ID
// list is exhausted, continuing as new every MaxBatches batches.
func CrawlWorkflow(ctx workflow.Context, req *CrawlRequest) (*CrawlRequest, error) {
	l := workflow.GetLogger(ctx)

	wkflname := workflow.GetInfo(ctx).WorkflowType.Name

	l.Debug(
		"CrawlWorkflow workflow started",
		"run-id", req.RunID,
		"runs", req.Runs,
		"next-offset", req.Totals.NextOffset,
		"workflow", wkflname,
	)

	resp, err := crawlWorkflow(ctx, req)
	if err != nil {
		var canErr *workflow.ContinueAsNewError
		if errors.As(err, &canErr) {
			return resp, err
		}

		msg := crawler.AlertCrashPrefix + err.Error()
		if temporal.IsCanceledError(err) {
			msg = crawler.AlertInterrupted
		}
		l.Error(
			"CrawlWorkflow - temporal error",
			"workflow", wkflname,
			"error", err.Error(),
			"type", fmt.Sprintf("%T", err),
		)

		// alert even when the workflow itself was cancelled
		actx, _ := workflow.NewDisconnectedContext(ctx)
		if aErr := ExecuteAlertActivity(actx, msg); aErr != nil {
			l.Error("CrawlWorkflow - alert failed", "workflow", wkflname, "error", aErr.Error())
		}
		return resp, err
	}

	l.Debug(
		"CrawlWorkflow workflow completed",
		"run-id", resp.RunID,
		"processed", resp.Totals.Processed,
		"failed", resp.Totals.Failed,
		"batches", resp.Totals.Batches,
		"workflow", wkflname,
	)
	return resp, nil
}

func crawlWorkflow(ctx workflow.Context, req *CrawlRequest) (*CrawlRequest, error) {
	l := workflow.GetLogger(ctx)

	wkflname := workflow.GetInfo(ctx).WorkflowType.Name

	if req == nil || req.BatchSize < 0 || req.Workers < 0 {
		return req, temporal.NewApplicationErrorWithCause(ERR_INVALID_CRAWL_REQUEST, ERR_INVALID_CRAWL_REQUEST, ErrInvalidCrawlRequest)
	}
	if req.MaxBatches <= 0 || req.MaxBatches > WorkflowBatchLimit {
		req.MaxBatches = config.DefaultTemporalMaxBatches
	}
	if req.RunID == "" {
		req.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	if req.Runs == 0 {
		if err := ExecuteAlertActivity(ctx, crawler.AlertStarted); err != nil {
			l.Error("crawlWorkflow - start alert failed", "workflow", wkflname, "error", err.Error())
		}
	}
	req.Runs++

	for i := 0; i < req.MaxBatches && !req.Done; i++ {
		s, err := ExecuteCrawlBatchActivity(ctx, &CrawlBatchRequest{
			RunID:     req.RunID,
			BatchSize: req.BatchSize,
			Workers:   req.Workers,
		})
		if err != nil {
			return req, err
		}
		req.Totals.Add(s)
		req.Done = s.Done

		l.Debug(
			"crawlWorkflow batch crawled",
			"run-id", req.RunID,
			"batches", req.Totals.Batches,
			"next-offset", req.Totals.NextOffset,
			"total", req.Totals.Total,
			"workflow", wkflname,
		)
	}

	if !req.Done {
		l.Debug(
			"crawlWorkflow continuing as new",
			"run-id", req.RunID,
			"runs", req.Runs,
			"next-offset", req.Totals.NextOffset,
			"workflow", wkflname,
		)
		return nil, workflow.NewContinueAsNewError(ctx, wkflname, req)
	}

	if err := ExecuteAlertActivity(ctx, crawler.AlertFinished); err != nil {
		l.Error("crawlWorkflow - finish alert failed", "workflow", wkflname, "error", err.Error())
	}
	return req, nil
}
