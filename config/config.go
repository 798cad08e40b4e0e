package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIntervalHours = 4
	MinIntervalHours     = 1
	MaxIntervalHours     = 24
)

type Config struct {
	Database  DatabaseConfig
	S3        S3Config
	Scheduler SchedulerConfig
	Media     MediaConfig
	OpsDBPath string
	LogLevel  string
	Providers map[string]*ProviderConfig
}

type DatabaseConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for DO Spaces / R2
	AccessKeyID     string
	SecretAccessKey string
	CDNBaseURL      string // optional CDN front
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

type MediaConfig struct {
	MaxBytes        int64
	DownloadTimeout time.Duration
}

// ProviderConfig is one provider's sync definition, loaded from
// config/providers/*.yaml and immutable for the lifetime of a run.
type ProviderConfig struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Kind              string            `yaml:"kind"` // mock, rets, portal
	LoginURL          string            `yaml:"login_url"`
	SearchURL         string            `yaml:"search_url"`
	MetadataURL       string            `yaml:"metadata_url"`
	FieldMap          map[string]string `yaml:"field_map"` // external field -> internal field
	RequestsPerMinute int               `yaml:"requests_per_minute"`
	SyncIntervalHours int               `yaml:"sync_interval_hours"`
	IncludeMedia      bool              `yaml:"include_media"`
	BatchSize         int               `yaml:"batch_size"`
	MaxRecords        int               `yaml:"max_records"`
	MockListings      int               `yaml:"mock_listings"` // mock adapter only
}

// Credentials are resolved from the environment per provider id, e.g.
// MLS_CREA_USERNAME. How they are backed is the credential source's business.
type Credentials struct {
	Username  string
	Password  string
	UserAgent string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SYNC_CRON"),
		},
		Media: MediaConfig{
			MaxBytes:        int64(getEnvInt("MEDIA_MAX_BYTES", 25*1024*1024)),
			DownloadTimeout: 60 * time.Second,
		},
		OpsDBPath: getEnv("OPS_DB_PATH", "mls_syncd.db"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Providers: make(map[string]*ProviderConfig),
	}

	if interval := os.Getenv("SYNC_CHECK_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if timeout := os.Getenv("MEDIA_DOWNLOAD_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Media.DownloadTimeout = d
		}
	}

	if err := cfg.loadProviderConfigs("config/providers"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadProviderConfigs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}

		var pc ProviderConfig
		if err := yaml.Unmarshal(data, &pc); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}

		c.Providers[pc.ID] = &pc
	}

	return nil
}

// Validate checks a provider definition at load time so a bad file fails the
// daemon at startup instead of failing a run later.
func (pc *ProviderConfig) Validate() error {
	if pc.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	switch pc.Kind {
	case "mock", "rets", "portal":
	case "":
		return fmt.Errorf("provider %s: kind is required", pc.ID)
	default:
		return fmt.Errorf("provider %s: unknown kind %q", pc.ID, pc.Kind)
	}
	if pc.Kind != "mock" && pc.SearchURL == "" {
		return fmt.Errorf("provider %s: search_url is required", pc.ID)
	}
	if pc.SyncIntervalHours == 0 {
		pc.SyncIntervalHours = DefaultIntervalHours
	}
	if pc.SyncIntervalHours < MinIntervalHours || pc.SyncIntervalHours > MaxIntervalHours {
		return fmt.Errorf("provider %s: sync_interval_hours must be %d-%d",
			pc.ID, MinIntervalHours, MaxIntervalHours)
	}
	if pc.RequestsPerMinute < 0 {
		return fmt.Errorf("provider %s: requests_per_minute must be >= 0", pc.ID)
	}
	if pc.FieldMap == nil {
		pc.FieldMap = make(map[string]string)
	}
	return nil
}

// SyncInterval returns the configured interval as a duration.
func (pc *ProviderConfig) SyncInterval() time.Duration {
	return time.Duration(pc.SyncIntervalHours) * time.Hour
}

// LoadCredentials resolves adapter credentials for a provider id from the
// environment, e.g. MLS_CREA_USERNAME / MLS_CREA_PASSWORD / MLS_CREA_UA.
func LoadCredentials(providerID string) Credentials {
	prefix := "MLS_" + envKey(providerID) + "_"
	return Credentials{
		Username:  os.Getenv(prefix + "USERNAME"),
		Password:  os.Getenv(prefix + "PASSWORD"),
		UserAgent: getEnv(prefix+"UA", "mls_syncd/1.0"),
	}
}

func envKey(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-('a'-'A'))
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
