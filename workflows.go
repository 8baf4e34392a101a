package catalog_crawl

import "github.com/google/uuid"

// ApplicationName prefixes worker identities.
const ApplicationName = "catalogCrawlGroup"

// HostID - a new uuid per process so that several workers can share one machine.
var HostID = ApplicationName + "_" + uuid.New().String()

// CrawlWorkflowName is the fully qualified name of the crawl workflow.
const CrawlWorkflowName = "github.com/hankgalt/catalog-crawl.CrawlWorkflow"

// Registration aliases.
const (
	CrawlWorkflowAlias      string = "crawl-workflow-alias"
	CrawlBatchActivityAlias string = "crawl-batch-activity-alias"
	AlertActivityAlias      string = "alert-activity-alias"
)

// NewRunID returns a workflow ID for a new crawl run.
func NewRunID() string {
	return "crawl-" + uuid.New().String()
}
