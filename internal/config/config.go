package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL     = "https://api.tiki.vn/product-detail/api/v1/products/{}"
	DefaultIDsFile    = "data/raw/products-0-200000.csv"
	DefaultDataDir    = "data/processed"
	DefaultFailedFile = "data/logs/failed_records.csv"
	DefaultBatchSize  = 1000
	DefaultWorkers    = 10
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
	DefaultTimeout    = 10 * time.Second

	DefaultTemporalHost       = "localhost:7233"
	DefaultTemporalNamespace  = "default"
	DefaultTemporalTaskQueue  = "catalog-crawl"
	DefaultTemporalMaxBatches = 20
)

const (
	ERR_INVALID_BATCH_SIZE  = "config: batch size must be positive"
	ERR_INVALID_WORKERS     = "config: workers must be positive"
	ERR_INVALID_MAX_RETRIES = "config: max retries must be positive"
	ERR_INVALID_BACKOFF     = "config: backoff must not be negative"
	ERR_API_URL_REQUIRED    = "config: api url is required"
	ERR_IDS_FILE_REQUIRED   = "config: ids file is required"
	ERR_DATA_DIR_REQUIRED   = "config: data dir is required"
)

var (
	ErrInvalidBatchSize  = errors.New(ERR_INVALID_BATCH_SIZE)
	ErrInvalidWorkers    = errors.New(ERR_INVALID_WORKERS)
	ErrInvalidMaxRetries = errors.New(ERR_INVALID_MAX_RETRIES)
	ErrInvalidBackoff    = errors.New(ERR_INVALID_BACKOFF)
	ErrAPIURLRequired    = errors.New(ERR_API_URL_REQUIRED)
	ErrIDsFileRequired   = errors.New(ERR_IDS_FILE_REQUIRED)
	ErrDataDirRequired   = errors.New(ERR_DATA_DIR_REQUIRED)
)

type MongoConfig struct {
	Protocol   string `yaml:"protocol"`
	Host       string `yaml:"host"`
	DBName     string `yaml:"db_name"`
	User       string `yaml:"user"`
	Pwd        string `yaml:"pwd"`
	Params     string `yaml:"params"`
	Collection string `yaml:"collection"`
}

// Enabled reports whether the mongo mirror is configured.
func (m MongoConfig) Enabled() bool { return m.Host != "" }

type TemporalConfig struct {
	Host       string `yaml:"host"`
	Namespace  string `yaml:"namespace"`
	TaskQueue  string `yaml:"task_queue"`
	MaxBatches int    `yaml:"max_batches"` // batches per workflow run before continue-as-new
}

// Config holds every knob of a crawl. Layers apply in order:
// defaults, YAML file, environment, command line flags.
type Config struct {
	APIURL            string            `yaml:"api_url"`
	Headers           map[string]string `yaml:"headers"`
	IDsFile           string            `yaml:"ids_file"`
	IDsBucket         string            `yaml:"ids_bucket"` // when set IDsFile is an object path in this GCS bucket
	MaxIDs            int               `yaml:"max_ids"`
	DataDir           string            `yaml:"data_dir"`
	FailedFile        string            `yaml:"failed_file"`
	BatchSize         int               `yaml:"batch_size"`
	Workers           int               `yaml:"workers"`
	MaxRetries        int               `yaml:"max_retries"`
	Backoff           time.Duration     `yaml:"backoff"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	WebhookURL        string            `yaml:"webhook_url"`
	StatsdAddr        string            `yaml:"statsd_addr"`
	SQLiteFile        string            `yaml:"sqlite_file"`
	Mongo             MongoConfig       `yaml:"mongo"`
	Temporal          TemporalConfig    `yaml:"temporal"`
	DryRun            bool              `yaml:"dry_run"` // discard batches, neither resume nor checkpoint
}

// Defaults returns the static configuration.
func Defaults() Config {
	return Config{
		APIURL:     DefaultAPIURL,
		IDsFile:    DefaultIDsFile,
		DataDir:    DefaultDataDir,
		FailedFile: DefaultFailedFile,
		BatchSize:  DefaultBatchSize,
		Workers:    DefaultWorkers,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
		Timeout:    DefaultTimeout,
		Mongo: MongoConfig{
			Protocol:   "mongodb",
			Collection: "products",
		},
		Temporal: TemporalConfig{
			Host:       DefaultTemporalHost,
			Namespace:  DefaultTemporalNamespace,
			TaskQueue:  DefaultTemporalTaskQueue,
			MaxBatches: DefaultTemporalMaxBatches,
		},
	}
}

// Load builds a config from defaults, the optional YAML file at path and the
// process environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("API_URL", &c.APIURL)
	str("IDS_FILE", &c.IDsFile)
	str("BUCKET", &c.IDsBucket)
	str("DATA_DIR", &c.DataDir)
	str("FAILED_FILE", &c.FailedFile)
	str("WEBHOOK_URL", &c.WebhookURL)
	str("STATSD_ADDR", &c.StatsdAddr)
	str("SQLITE_FILE", &c.SQLiteFile)
	str("MONGO_PROTOCOL", &c.Mongo.Protocol)
	str("MONGO_HOST", &c.Mongo.Host)
	str("MONGO_DBNAME", &c.Mongo.DBName)
	str("MONGO_USERNAME", &c.Mongo.User)
	str("MONGO_PASSWORD", &c.Mongo.Pwd)
	str("MONGO_CONN_PARAMS", &c.Mongo.Params)
	str("MONGO_COLLECTION", &c.Mongo.Collection)
	str("TEMPORAL_HOST", &c.Temporal.Host)
	str("TEMPORAL_NAMESPACE", &c.Temporal.Namespace)
	str("TEMPORAL_TASK_QUEUE", &c.Temporal.TaskQueue)

	for key, dst := range map[string]*int{
		"BATCH_SIZE":           &c.BatchSize,
		"MAX_WORKERS":          &c.Workers,
		"MAX_RETRIES":          &c.MaxRetries,
		"MAX_IDS":              &c.MaxIDs,
		"TEMPORAL_MAX_BATCHES": &c.Temporal.MaxBatches,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	if err := dur("BACKOFF", &c.Backoff); err != nil {
		return err
	}
	if err := dur("REQUEST_TIMEOUT", &c.Timeout); err != nil {
		return err
	}
	if v, ok := lookup("REQUESTS_PER_SECOND"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: REQUESTS_PER_SECOND: %w", err)
		}
		c.RequestsPerSecond = f
	}
	return nil
}

// Validate rejects unusable values and fills derived defaults.
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if c.Backoff < 0 {
		return ErrInvalidBackoff
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return ErrAPIURLRequired
	}
	if strings.TrimSpace(c.IDsFile) == "" {
		return ErrIDsFileRequired
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return ErrDataDirRequired
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailedFile == "" {
		c.FailedFile = DefaultFailedFile
	}
	if c.Temporal.MaxBatches <= 0 {
		c.Temporal.MaxBatches = DefaultTemporalMaxBatches
	}
	return nil
}

// ParseDuration accepts Go durations ("1.5s") and bare seconds ("1.5").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Flags are the command line overrides, applied last.
type Flags struct {
	fs         *flag.FlagSet
	configPath string
	batchSize  int
	workers    int
	maxRetries int
	backoff    durationFlag
	ids        string
	out        string
	apiURL     string
	dryRun     bool
}

// RegisterFlags adds the crawl flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.IntVar(&f.batchSize, "batch-size", DefaultBatchSize, "records per batch file")
	fs.IntVar(&f.workers, "workers", DefaultWorkers, "concurrent fetch workers")
	fs.IntVar(&f.maxRetries, "max-retries", DefaultMaxRetries, "attempts per product id")
	fs.Var(&f.backoff, "backoff", "linear backoff base, e.g. 1s or 0.5")
	fs.StringVar(&f.ids, "ids", DefaultIDsFile, "CSV file with product ids in the first column")
	fs.StringVar(&f.out, "out", DefaultDataDir, "output directory for batch files")
	fs.StringVar(&f.apiURL, "api-url", DefaultAPIURL, "product endpoint, {} is replaced by the id")
	fs.BoolVar(&f.dryRun, "dry-run", false, "fetch and transform every id but write nothing")
	return f
}

// ConfigPath is the value of -config.
func (f *Flags) ConfigPath() string { return f.configPath }

// Apply copies explicitly set flags onto cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "batch-size":
			cfg.BatchSize = f.batchSize
		case "workers":
			cfg.Workers = f.workers
		case "max-retries":
			cfg.MaxRetries = f.maxRetries
		case "backoff":
			cfg.Backoff = time.Duration(f.backoff)
		case "ids":
			cfg.IDsFile = f.ids
		case "out":
			cfg.DataDir = f.out
		case "api-url":
			cfg.APIURL = f.apiURL
		case "dry-run":
			cfg.DryRun = f.dryRun
		}
	})
}

type durationFlag time.Duration

func (d *durationFlag) String() string { return time.Duration(*d).String() }

func (d *durationFlag) Set(s string) error {
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = durationFlag(v)
	return nil
}
