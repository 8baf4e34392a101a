package catalog_crawl

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

func DefaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		ScheduleToStartTimeout: time.Minute,
		StartToCloseTimeout:    time.Hour,
		HeartbeatTimeout:       30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
}

func ExecuteCrawlBatchActivity(ctx workflow.Context, req *CrawlBatchRequest) (*domain.Summary, error) {
	// setup activity options
	ao := DefaultActivityOptions()
	ao.RetryPolicy.NonRetryableErrorTypes = []string{
		ERR_INVALID_CONFIG,
		ERR_MISSING_CRAWLER_BUILDER,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var resp domain.Summary
	if err := workflow.ExecuteActivity(ctx, CrawlBatchActivityAlias, req).Get(ctx, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func ExecuteAlertActivity(ctx workflow.Context, message string) error {
	ao := DefaultActivityOptions()
	ao.StartToCloseTimeout = time.Minute
	ao.HeartbeatTimeout = 0
	ao.RetryPolicy.MaximumAttempts = 3
	ctx = workflow.WithActivityOptions(ctx, ao)

	return workflow.ExecuteActivity(ctx, AlertActivityAlias, message).Get(ctx, nil)
}
