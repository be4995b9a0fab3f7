package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"assetsync/internal/storage"
)

// Environment variables credentials are read from
const (
	EnvAccessKeyID     = "R2_ACCESS_KEY_ID"
	EnvSecretAccessKey = "R2_SECRET_ACCESS_KEY"
	EnvAccountID       = "R2_ACCOUNT_ID"
	EnvAPIToken        = "CLOUDFLARE_API_TOKEN"
	EnvCFAccountID     = "CLOUDFLARE_ACCOUNT_ID"
)

// DefaultExtensions are the image types synced when none are configured
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".avif"}

// Config represents the application configuration
type Config struct {
	Store       Store  `yaml:"store"`
	Sync        Sync   `yaml:"sync"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Store describes the destination object store
type Store struct {
	Backend      string `yaml:"backend"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	AccountID    string `yaml:"account_id"`
	APIToken     string `yaml:"api_token"`
	Secure       bool   `yaml:"secure"`
	UsePathStyle bool   `yaml:"use_path_style"`
	PartSize     int64  `yaml:"part_size"`
	CLIPath      string `yaml:"cli_path"`
	BaseURL      string `yaml:"base_url"`
}

// Sync holds the run parameters
type Sync struct {
	SourceDir       string        `yaml:"source_dir"`
	Prefix          string        `yaml:"prefix"`
	Concurrency     int           `yaml:"concurrency"`
	Dedup           bool          `yaml:"dedup"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	ProgressEvery   int           `yaml:"progress_every"`
	MaxFailures     int           `yaml:"max_failures"`
	Extensions      []string      `yaml:"extensions"`
	Checkpoint      string        `yaml:"checkpoint"`
	OnlyFailed      bool          `yaml:"only_failed"`
	DryRun          bool          `yaml:"dry_run"`
	ProbeCacheTTL   time.Duration `yaml:"probe_cache_ttl"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store: Store{
			Backend: storage.BackendS3,
			Region:  "auto",
			Secure:  true,
		},
		Sync: Sync{
			Prefix:          "screenshots/thumbnails/",
			Concurrency:     10,
			Dedup:           true,
			Timeout:         30 * time.Second,
			RetryBackoff:    500 * time.Millisecond,
			MaxRetryBackoff: 10 * time.Second,
			ProgressEvery:   50,
			MaxFailures:     20,
			Extensions:      append([]string(nil), DefaultExtensions...),
		},
	}
}

// Load loads configuration from file, environment and command line flags,
// in that order of precedence (flags win).
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg, os.LookupEnv)

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg.normalize()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv fills credentials that the file left empty
func loadFromEnv(cfg *Config, lookup func(string) (string, bool)) {
	fill := func(dst *string, names ...string) {
		if *dst != "" {
			return
		}
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	fill(&cfg.Store.AccessKey, EnvAccessKeyID)
	fill(&cfg.Store.SecretKey, EnvSecretAccessKey)
	fill(&cfg.Store.AccountID, EnvAccountID, EnvCFAccountID)
	fill(&cfg.Store.APIToken, EnvAPIToken)
}

// RegisterFlags declares every flag loadFromFlags understands
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	// Store flags
	flags.String("backend", d.Store.Backend, "Store backend (s3/minio/rest/cli/memory)")
	flags.String("endpoint", "", "S3 endpoint (derived from the account id when empty)")
	flags.String("region", d.Store.Region, "S3 region")
	flags.String("bucket", "", "Destination bucket (required)")
	flags.String("account-id", "", "Cloudflare account id")
	flags.Bool("secure", d.Store.Secure, "Use HTTPS for the endpoint")
	flags.Bool("path-style", false, "Use path-style addressing")
	flags.String("cli-path", "", "Path to the wrangler binary")

	// Sync flags
	flags.String("source-dir", "", "Local directory to sync (required)")
	flags.String("prefix", d.Sync.Prefix, "Remote key prefix")
	flags.Int("concurrency", d.Sync.Concurrency, "Number of concurrent uploads")
	flags.Bool("dedup", d.Sync.Dedup, "Skip files whose key already exists")
	flags.Bool("force", false, "Upload every file, even if it already exists")
	flags.Duration("timeout", d.Sync.Timeout, "Timeout per request")
	flags.Int("retries", d.Sync.Retries, "Retries per file for transient failures")
	flags.Duration("retry-backoff", d.Sync.RetryBackoff, "Initial retry backoff")
	flags.Int("progress-every", d.Sync.ProgressEvery, "Log progress every N files (0 disables)")
	flags.Int("max-failures", d.Sync.MaxFailures, "Failed files listed in the summary")
	flags.StringSlice("ext", d.Sync.Extensions, "File extensions to sync")
	flags.String("checkpoint", "", "Outcome ledger database file")
	flags.Bool("only-failed", false, "Only retry files that failed in the checkpoint ledger")
	flags.Bool("dry-run", false, "List files and keys without uploading")
	flags.Duration("probe-cache-ttl", 0, "Cache positive existence checks for this long")

	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	duration := func(name string, dst *time.Duration) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetDuration(name)
		}
	}

	str("backend", &cfg.Store.Backend)
	str("endpoint", &cfg.Store.Endpoint)
	str("region", &cfg.Store.Region)
	str("bucket", &cfg.Store.Bucket)
	str("account-id", &cfg.Store.AccountID)
	boolean("secure", &cfg.Store.Secure)
	boolean("path-style", &cfg.Store.UsePathStyle)
	str("cli-path", &cfg.Store.CLIPath)

	str("source-dir", &cfg.Sync.SourceDir)
	str("prefix", &cfg.Sync.Prefix)
	integer("concurrency", &cfg.Sync.Concurrency)
	boolean("dedup", &cfg.Sync.Dedup)
	duration("timeout", &cfg.Sync.Timeout)
	integer("retries", &cfg.Sync.Retries)
	duration("retry-backoff", &cfg.Sync.RetryBackoff)
	integer("progress-every", &cfg.Sync.ProgressEvery)
	integer("max-failures", &cfg.Sync.MaxFailures)
	str("checkpoint", &cfg.Sync.Checkpoint)
	boolean("only-failed", &cfg.Sync.OnlyFailed)
	boolean("dry-run", &cfg.Sync.DryRun)
	duration("probe-cache-ttl", &cfg.Sync.ProbeCacheTTL)

	str("log-level", &cfg.LogLevel)
	str("metrics-addr", &cfg.MetricsAddr)

	if err == nil && flags.Changed("ext") {
		cfg.Sync.Extensions, err = flags.GetStringSlice("ext")
	}
	if err == nil && flags.Changed("force") {
		var force bool
		if force, err = flags.GetBool("force"); force {
			cfg.Sync.Dedup = false
		}
	}

	return err
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	for i, ext := range c.Sync.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Sync.Extensions[i] = ext
	}
}

// Validate checks the configuration is complete for the chosen backend
func (c *Config) Validate() error {
	if c.Sync.SourceDir == "" {
		return fmt.Errorf("source dir is required")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Sync.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.Sync.ProgressEvery < 0 {
		return fmt.Errorf("progress every must not be negative")
	}
	if c.Sync.MaxFailures < 0 {
		return fmt.Errorf("max failures must not be negative")
	}
	if len(c.Sync.Extensions) == 0 {
		return fmt.Errorf("at least one extension is required")
	}
	if c.Sync.OnlyFailed && c.Sync.Checkpoint == "" {
		return fmt.Errorf("only failed requires a checkpoint file")
	}

	if c.Store.Backend != storage.BackendMemory && c.Store.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Sync.DryRun {
		return nil
	}

	switch c.Store.Backend {
	case storage.BackendS3, storage.BackendMinIO:
		if c.Store.Endpoint == "" && c.Store.AccountID == "" {
			return fmt.Errorf("endpoint or account id is required")
		}
		if c.Store.AccessKey == "" || c.Store.SecretKey == "" {
			return fmt.Errorf("access key and secret key are required (%s, %s)", EnvAccessKeyID, EnvSecretAccessKey)
		}
	case storage.BackendREST:
		if c.Store.AccountID == "" {
			return fmt.Errorf("account id is required (%s)", EnvCFAccountID)
		}
		if c.Store.APIToken == "" {
			return fmt.Errorf("api token is required (%s)", EnvAPIToken)
		}
	case storage.BackendCLI, storage.BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Store.Backend)
	}

	return nil
}
