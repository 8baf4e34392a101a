package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/comfforts/logger"
	"github.com/fatih/color"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	cc "github.com/hankgalt/catalog-crawl"
	"github.com/hankgalt/catalog-crawl/internal/config"
	"github.com/hankgalt/catalog-crawl/internal/crawler"
	"github.com/hankgalt/catalog-crawl/internal/notify"
	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const usage = `usage: crawler [run|worker|start] [flags]

  run     crawl locally until every id is processed (default)
  worker  serve crawl workflows and activities on the temporal task queue
  start   start a crawl workflow on the temporal task queue
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "run"
	if len(args) > 0 && (args[0] == "run" || args[0] == "worker" || args[0] == "start") {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("crawler "+cmd, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	flags := config.RegisterFlags(fs)
	wait := fs.Bool("wait", false, "start: wait for the workflow result")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(flags.ConfigPath())
	if err != nil {
		color.Red("config: %s", err.Error())
		return 2
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		color.Red("config: %s", err.Error())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := logger.GetSlogMultiLogger(filepath.Dir(cfg.FailedFile))
	ctx = logger.WithLogger(ctx, l)

	switch cmd {
	case "worker":
		err = serve(ctx, cfg, l)
	case "start":
		err = start(ctx, cfg, l, *wait)
	default:
		err = crawl(ctx, cfg)
	}
	if err != nil {
		color.Red("crawler %s: %s", cmd, err.Error())
		return 1
	}
	return 0
}

// trackingNotifier remembers whether the crawler already raised an alert.
type trackingNotifier struct {
	domain.Notifier
	sent atomic.Bool
}

func (n *trackingNotifier) Notify(ctx context.Context, message string) {
	n.sent.Store(true)
	n.Notifier.Notify(ctx, message)
}

// crawl runs the whole crawl in process, alerting like a supervised job.
func crawl(ctx context.Context, cfg config.Config) error {
	alerts := notify.NewWebhook(cfg.WebhookURL, nil)
	tracked := &trackingNotifier{Notifier: alerts}

	c, closeFn, err := crawler.Build(ctx, cfg, tracked)
	if err != nil {
		alerts.Notify(ctx, crawler.AlertCrashPrefix+err.Error())
		return err
	}
	defer func() {
		if err := closeFn(context.WithoutCancel(ctx)); err != nil {
			color.Yellow("close: %s", err.Error())
		}
	}()

	alerts.Notify(ctx, crawler.AlertStarted)
	s, err := c.Run(ctx)
	if s != nil {
		printSummary(s)
	}
	if err != nil {
		switch {
		case tracked.sent.Load():
		case ctx.Err() != nil:
			alerts.Notify(ctx, crawler.AlertInterrupted)
		default:
			alerts.Notify(ctx, crawler.AlertCrashPrefix+err.Error())
		}
		return err
	}
	alerts.Notify(ctx, crawler.AlertFinished)
	return nil
}

func dial(cfg config.Config, l log.Logger) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    l,
	})
}

// serve registers the crawl workflow and activities and blocks until ctx is done.
func serve(ctx context.Context, cfg config.Config, l log.Logger) error {
	c, err := dial(cfg, l)
	if err != nil {
		return fmt.Errorf("temporal dial %s: %w", cfg.Temporal.Host, err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		BackgroundActivityContext: ctx,
		Identity:                  cc.HostID,
		// one crawl batch at a time, the crawler owns the output directory
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflowWithOptions(cc.CrawlWorkflow, workflow.RegisterOptions{Name: cc.CrawlWorkflowAlias})
	acts := cc.NewActivities(cfg, nil, nil)
	w.RegisterActivityWithOptions(acts.CrawlBatchActivity, activity.RegisterOptions{Name: cc.CrawlBatchActivityAlias})
	w.RegisterActivityWithOptions(acts.AlertActivity, activity.RegisterOptions{Name: cc.AlertActivityAlias})

	if err := w.Start(); err != nil {
		return err
	}
	color.Green("worker %s serving task queue %s", cc.HostID, cfg.Temporal.TaskQueue)
	<-ctx.Done()
	w.Stop()
	return nil
}

// start submits a crawl workflow, optionally waiting for it to finish.
func start(ctx context.Context, cfg config.Config, l log.Logger, wait bool) error {
	c, err := dial(cfg, l)
	if err != nil {
		return fmt.Errorf("temporal dial %s: %w", cfg.Temporal.Host, err)
	}
	defer c.Close()

	req := &cc.CrawlRequest{
		RunID:      cc.NewRunID(),
		BatchSize:  cfg.BatchSize,
		Workers:    cfg.Workers,
		MaxBatches: cfg.Temporal.MaxBatches,
	}
	we, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    req.RunID,
		TaskQueue:             cfg.Temporal.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, cc.CrawlWorkflowAlias, req)
	if err != nil {
		return err
	}
	color.Green("started workflow %s, run %s", we.GetID(), we.GetRunID())
	if !wait {
		return nil
	}

	// continue-as-new runs are followed to the final one
	var resp cc.CrawlRequest
	if err := we.Get(ctx, &resp); err != nil {
		return err
	}
	printSummary(&domain.Summary{
		Total:      resp.Totals.Total,
		Processed:  resp.Totals.Processed,
		Succeeded:  resp.Totals.Succeeded,
		Failed:     resp.Totals.Failed,
		Batches:    resp.Totals.Batches,
		NextOffset: resp.Totals.NextOffset,
		Done:       resp.Done,
	})
	return nil
}

func printSummary(s *domain.Summary) {
	title := color.New(color.FgHiBlue, color.Bold)
	ok := color.New(color.FgHiGreen)
	bad := color.New(color.FgHiRed)

	title.Println("crawl summary")
	fmt.Printf("  ids:        %d (resumed at %d)\n", s.Total, s.StartOffset)
	fmt.Printf("  processed:  %d\n", s.Processed)
	ok.Printf("  succeeded:  %d\n", s.Succeeded)
	if s.Failed > 0 {
		bad.Printf("  failed:     %d\n", s.Failed)
	} else {
		fmt.Printf("  failed:     %d\n", s.Failed)
	}
	fmt.Printf("  batches:    %d (next offset %d, next file %d)\n", s.Batches, s.NextOffset, s.NextFileIndex)
	if s.Elapsed > 0 {
		fmt.Printf("  elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	}
	if s.Done {
		ok.Println("  all ids processed")
	} else {
		bad.Println("  crawl incomplete, rerun to resume")
	}
}
