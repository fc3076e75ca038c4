package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/nestling/internal/models"
)

// Config captures the settings required to boot the insight engine.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Cloud           CloudConfig           `yaml:"cloud"`
	Policy          PolicyConfig          `yaml:"policy"`
	Secrets         SecretsConfig         `yaml:"secrets"`
	Storage         StorageConfig         `yaml:"storage"`
	Logging         LoggingConfig         `yaml:"logging"`
	Recommendations RecommendationsConfig `yaml:"recommendations"`
	Cache           CacheConfig           `yaml:"cache"`
}

// ServerConfig controls the gRPC and admin listeners.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	AdminAddress    string        `yaml:"adminAddress" validate:"required"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gt=0"`
}

// CloudConfig configures the remote insight API.
type CloudConfig struct {
	BaseURL           string        `yaml:"baseURL" validate:"omitempty,url"`
	SleepPath         string        `yaml:"sleepPath"`
	RoutinePath       string        `yaml:"routinePath"`
	PredictionPath    string        `yaml:"predictionPath"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL          time.Duration `yaml:"cacheTTL" validate:"gte=0"`
	RequestsPerMinute float64       `yaml:"requestsPerMinute" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// PolicyConfig holds the default analysis settings and the network state reported to the policy.
type PolicyConfig struct {
	CloudEnabled  bool `yaml:"cloudEnabled"`
	WiFiOnly      bool `yaml:"wifiOnly"`
	AnonymizeData bool `yaml:"anonymizeData"`
	Connected     bool `yaml:"connected"`
	WiFi          bool `yaml:"wifi"`
}

// Settings returns the default per-request analysis settings.
func (p PolicyConfig) Settings() models.AnalysisSettings {
	return models.AnalysisSettings{
		CloudEnabled:  p.CloudEnabled,
		WiFiOnly:      p.WiFiOnly,
		AnonymizeData: p.AnonymizeData,
	}
}

// SecretsConfig locates the device seed and the build-time credential fragment.
type SecretsConfig struct {
	DeviceSeedPath     string `yaml:"deviceSeedPath" validate:"required"`
	MiddleFragment     string `yaml:"middleFragment"`
	MiddleFragmentPath string `yaml:"middleFragmentPath"`
}

// StorageConfig controls the embedded record and secret store.
type StorageConfig struct {
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"inMemory"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RecommendationsConfig points at an optional recommendation table override.
type RecommendationsConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of cloud responses.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

var validate = validator.New()

// Load initialises Config from defaults, a YAML file and environment overrides.
// A .env file in the working directory is read first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("NESTLING_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints after all layers are applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			AdminAddress:    ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Cloud: CloudConfig{
			SleepPath:         "/v1/baby/sleep/analyze",
			RoutinePath:       "/v1/baby/routine/analyze",
			PredictionPath:    "/v1/baby/prediction/generate",
			Timeout:           30 * time.Second,
			CacheTTL:          10 * time.Minute,
			RequestsPerMinute: 60,
			Burst:             5,
		},
		Policy: PolicyConfig{
			WiFiOnly:      true,
			AnonymizeData: true,
			Connected:     true,
			WiFi:          true,
		},
		Secrets: SecretsConfig{DeviceSeedPath: "data/device.seed"},
		Storage: StorageConfig{Path: "data/records"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			KeyPrefix:    "nestling:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	envString("NESTLING_GRPC_ADDRESS", &cfg.Server.Address)
	envString("NESTLING_ADMIN_ADDRESS", &cfg.Server.AdminAddress)

	envString("NESTLING_CLOUD_BASE_URL", &cfg.Cloud.BaseURL)
	envString("NESTLING_CLOUD_SLEEP_PATH", &cfg.Cloud.SleepPath)
	envString("NESTLING_CLOUD_ROUTINE_PATH", &cfg.Cloud.RoutinePath)
	envString("NESTLING_CLOUD_PREDICTION_PATH", &cfg.Cloud.PredictionPath)

	envString("NESTLING_DEVICE_SEED_PATH", &cfg.Secrets.DeviceSeedPath)
	envString("NESTLING_MIDDLE_FRAGMENT", &cfg.Secrets.MiddleFragment)
	envString("NESTLING_MIDDLE_FRAGMENT_PATH", &cfg.Secrets.MiddleFragmentPath)

	envString("NESTLING_STORAGE_PATH", &cfg.Storage.Path)
	envString("NESTLING_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("NESTLING_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	envString("NESTLING_RECOMMENDATIONS_PATH", &cfg.Recommendations.Path)

	envString("NESTLING_CACHE_ADDR", &cfg.Cache.Addr)
	envString("NESTLING_CACHE_USERNAME", &cfg.Cache.Username)
	envString("NESTLING_CACHE_PASSWORD", &cfg.Cache.Password)
	envString("NESTLING_CACHE_KEY_PREFIX", &cfg.Cache.KeyPrefix)

	var errs []error
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"NESTLING_CLOUD_ENABLED", &cfg.Policy.CloudEnabled},
		{"NESTLING_WIFI_ONLY", &cfg.Policy.WiFiOnly},
		{"NESTLING_ANONYMIZE_DATA", &cfg.Policy.AnonymizeData},
		{"NESTLING_NETWORK_CONNECTED", &cfg.Policy.Connected},
		{"NESTLING_NETWORK_WIFI", &cfg.Policy.WiFi},
		{"NESTLING_STORAGE_IN_MEMORY", &cfg.Storage.InMemory},
		{"NESTLING_CACHE_ENABLED", &cfg.Cache.Enabled},
		{"NESTLING_CACHE_TLS", &cfg.Cache.TLS},
	} {
		errs = append(errs, envBool(b.key, b.dst))
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"NESTLING_CLOUD_TIMEOUT", &cfg.Cloud.Timeout},
		{"NESTLING_CLOUD_CACHE_TTL", &cfg.Cloud.CacheTTL},
		{"NESTLING_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout},
		{"NESTLING_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout},
		{"NESTLING_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout},
	} {
		errs = append(errs, envDuration(d.key, d.dst))
	}
	errs = append(errs,
		envInt("NESTLING_CLOUD_BURST", &cfg.Cloud.Burst),
		envInt("NESTLING_CACHE_DB", &cfg.Cache.DB),
		envInt("NESTLING_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries),
	)
	if v := os.Getenv("NESTLING_CLOUD_REQUESTS_PER_MINUTE"); v != "" {
		rpm, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("NESTLING_CLOUD_REQUESTS_PER_MINUTE: %w", err))
		} else {
			cfg.Cloud.RequestsPerMinute = rpm
		}
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
