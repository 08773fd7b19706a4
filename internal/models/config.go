package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	TableBackendPostgres = "postgres"
	TableBackendBadger   = "badger"

	BlobBackendLocal = "local"
	BlobBackendGCS   = "gcs"
)

type Config struct {
	ServerAddr     string `yaml:"server_addr"`
	PublicURL      string `yaml:"public_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	LogLevel       string `yaml:"log_level"`

	Table   TableConfig   `yaml:"table"`
	Blob    BlobConfig    `yaml:"blob"`
	Queue   QueueConfig   `yaml:"queue"`
	Tagging TaggingConfig `yaml:"tagging"`
}

type TableConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	BadgerPath  string `yaml:"badger_path"`
}

type BlobConfig struct {
	Backend string `yaml:"backend"`
	// Container is a directory for the local backend and a bucket name for gcs.
	Container string `yaml:"container"`
	// AccountName is the service account email used to sign gcs URLs.
	AccountName string `yaml:"account_name"`
	// AccountKey signs read URLs: an HMAC secret for local, a PEM private key for gcs.
	AccountKey      string        `yaml:"account_key"`
	CredentialsFile string        `yaml:"credentials_file"`
	URLTTL          time.Duration `yaml:"url_ttl"`
}

type QueueConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type TaggingConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	MaxDimension int    `yaml:"max_dimension"`
}

func DefaultConfig() *Config {
	return &Config{
		ServerAddr:     ":8080",
		PublicURL:      "http://localhost:8080",
		MaxUploadBytes: 20 << 20,
		LogLevel:       "info",
		Table: TableConfig{
			Backend: TableBackendPostgres,
		},
		Blob: BlobConfig{
			Backend: BlobBackendLocal,
			URLTTL:  time.Hour,
		},
		Queue: QueueConfig{
			Topic:   "photos",
			GroupID: "photo-tagger-group",
		},
		Tagging: TaggingConfig{
			Model:        "llava",
			MaxDimension: 1024,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file and
// PHOTOPIPE_* environment variables, then validates it. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PHOTOPIPE_SERVER_ADDR":      &c.ServerAddr,
		"PHOTOPIPE_PUBLIC_URL":       &c.PublicURL,
		"PHOTOPIPE_LOG_LEVEL":        &c.LogLevel,
		"PHOTOPIPE_TABLE_BACKEND":    &c.Table.Backend,
		"PHOTOPIPE_DATABASE_URL":     &c.Table.DatabaseURL,
		"PHOTOPIPE_BADGER_PATH":      &c.Table.BadgerPath,
		"PHOTOPIPE_BLOB_BACKEND":     &c.Blob.Backend,
		"PHOTOPIPE_BLOB_CONTAINER":   &c.Blob.Container,
		"PHOTOPIPE_STORAGE_ACCOUNT":  &c.Blob.AccountName,
		"PHOTOPIPE_STORAGE_KEY":      &c.Blob.AccountKey,
		"PHOTOPIPE_CREDENTIALS_FILE": &c.Blob.CredentialsFile,
		"PHOTOPIPE_QUEUE_TOPIC":      &c.Queue.Topic,
		"PHOTOPIPE_QUEUE_GROUP":      &c.Queue.GroupID,
		"PHOTOPIPE_TAGGING_ENDPOINT": &c.Tagging.Endpoint,
		"PHOTOPIPE_TAGGING_MODEL":    &c.Tagging.Model,
		"PHOTOPIPE_TAGGING_KEY":      &c.Tagging.APIKey,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	if v, ok := lookup("PHOTOPIPE_QUEUE_BROKERS"); ok {
		c.Queue.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Queue.Brokers = append(c.Queue.Brokers, b)
			}
		}
	}
	if v, ok := lookup("PHOTOPIPE_MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("PHOTOPIPE_MAX_UPLOAD_BYTES: %v", err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := lookup("PHOTOPIPE_BLOB_URL_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PHOTOPIPE_BLOB_URL_TTL: %v", err)
		}
		c.Blob.URLTTL = d
	}
	if v, ok := lookup("PHOTOPIPE_TAGGING_MAX_DIMENSION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PHOTOPIPE_TAGGING_MAX_DIMENSION: %v", err)
		}
		c.Tagging.MaxDimension = n
	}
	return nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%s is required", field))
	}

	if c.ServerAddr == "" {
		missing("server_addr")
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}

	switch c.Table.Backend {
	case TableBackendPostgres:
		if c.Table.DatabaseURL == "" {
			missing("table.database_url")
		}
	case TableBackendBadger:
		if c.Table.BadgerPath == "" {
			missing("table.badger_path")
		}
	default:
		errs = append(errs, fmt.Errorf("table.backend %q is not supported", c.Table.Backend))
	}

	switch c.Blob.Backend {
	case BlobBackendLocal:
		if c.PublicURL == "" {
			missing("public_url")
		}
		if c.Blob.AccountKey == "" {
			missing("blob.account_key")
		}
	case BlobBackendGCS:
		if c.Blob.AccountName == "" {
			missing("blob.account_name")
		}
		if c.Blob.AccountKey == "" {
			missing("blob.account_key")
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend %q is not supported", c.Blob.Backend))
	}
	if c.Blob.Container == "" {
		missing("blob.container")
	}
	if c.Blob.URLTTL <= 0 {
		errs = append(errs, errors.New("blob.url_ttl must be positive"))
	}

	if len(c.Queue.Brokers) == 0 {
		missing("queue.brokers")
	}
	if c.Queue.Topic == "" {
		missing("queue.topic")
	}
	if c.Queue.GroupID == "" {
		missing("queue.group_id")
	}

	if c.Tagging.Endpoint == "" {
		missing("tagging.endpoint")
	}
	if c.Tagging.Model == "" {
		missing("tagging.model")
	}
	if c.Tagging.MaxDimension <= 0 {
		errs = append(errs, errors.New("tagging.max_dimension must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
