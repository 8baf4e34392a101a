package sources

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/comfforts/logger"

	"github.com/hankgalt/catalog-crawl/pkg/domain"
)

const (
	CloudCSVSource = "cloud-csv-source"
)

type CloudSource string

const (
	CloudSourceGCS   CloudSource = "gcs"
	CloudSourceS3    CloudSource = "s3"
	CloudSourceAzure CloudSource = "azure"
)

const (
	ERR_CLOUD_CSV_PATH_REQUIRED   = "cloud csv: object path is required"
	ERR_CLOUD_CSV_BUCKET_REQUIRED = "cloud csv: bucket name is required"
	ERR_CLOUD_CSV_PROVIDER        = "cloud csv: unsupported provider, only 'gcs' is supported"
	ERR_CLOUD_CSV_MISSING_CREDS   = "cloud csv: missing credentials path"
	ERR_CLOUD_CSV_NIL_CLIENT      = "cloud csv: client is not initialized"
)

var (
	ErrCloudCSVPathRequired   = errors.New(ERR_CLOUD_CSV_PATH_REQUIRED)
	ErrCloudCSVBucketRequired = errors.New(ERR_CLOUD_CSV_BUCKET_REQUIRED)
	ErrCloudCSVProvider       = errors.New(ERR_CLOUD_CSV_PROVIDER)
	ErrCloudCSVMissingCreds   = errors.New(ERR_CLOUD_CSV_MISSING_CREDS)
	ErrCloudCSVNilClient      = errors.New(ERR_CLOUD_CSV_NIL_CLIENT)
)

// Cloud CSV (GCS) ID source.
type cloudCSVSource struct {
	provider  string
	path      string
	bucket    string
	delimiter rune
	maxIDs    int
	client    *storage.Client // GCP Storage client
}

func (s *cloudCSVSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Name of the source.
func (s *cloudCSVSource) Name() string { return CloudCSVSource }

// ReadIDs streams the ID list object from the bucket.
// Ensure the environment variable is set for GCP credentials.
func (s *cloudCSVSource) ReadIDs(ctx context.Context) ([]domain.ProductID, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if s.client == nil {
		return nil, ErrCloudCSVNilClient
	}

	rc, err := s.client.Bucket(s.bucket).Object(s.path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud csv: error creating reader for object %s in bucket %s: %w", s.path, s.bucket, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			l.Error("cloud csv: error closing reader", "error", err.Error())
		}
	}()

	ids, err := ReadIDs(ctx, rc, s.delimiter, s.maxIDs)
	if err != nil {
		return nil, fmt.Errorf("cloud csv: %s/%s: %w", s.bucket, s.path, err)
	}
	l.Debug("cloud csv: ids loaded", "bucket", s.bucket, "path", s.path, "count", len(ids))

	return ids, nil
}

// Cloud CSV (S3/GCS/Azure) - source config.
type CloudCSVConfig struct {
	Provider  string // "s3"|"gcs"|...
	Bucket    string
	Path      string
	Delimiter rune
	MaxIDs    int
}

// Name of the source.
func (c CloudCSVConfig) Name() string { return CloudCSVSource }

// Validate checks the config and applies defaults.
func (c *CloudCSVConfig) Validate() error {
	if c.Path == "" {
		return ErrCloudCSVPathRequired
	}
	if c.Bucket == "" {
		return ErrCloudCSVBucketRequired
	}
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.Provider == "" {
		c.Provider = string(CloudSourceGCS)
	}
	if c.Provider != string(CloudSourceGCS) {
		return ErrCloudCSVProvider
	}
	return nil
}

// BuildSource builds a cloud CSV ID source from the config.
func (c CloudCSVConfig) BuildSource(ctx context.Context) (domain.IDSource, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Ensure the environment variable is set for GCP credentials
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		return nil, ErrCloudCSVMissingCreds
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud csv: failed to create storage client: %w", err)
	}

	if _, err = client.Bucket(c.Bucket).Object(c.Path).Attrs(ctx); err != nil {
		if cErr := client.Close(); cErr != nil {
			return nil, errors.Join(err, cErr)
		}
		return nil, fmt.Errorf("cloud csv: object does not exist or error getting attributes: %w", err)
	}

	return &cloudCSVSource{
		provider:  c.Provider,
		bucket:    c.Bucket,
		path:      c.Path,
		delimiter: c.Delimiter,
		maxIDs:    c.MaxIDs,
		client:    client,
	}, nil
}
