package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings for the fetch CLI and the dashboard server,
// loaded from YAML and env.
type Config struct {
	ServerPort string

	CWADatasetURL string
	CWAAPIKey     string // optional; the static dataset endpoint is public
	CWATimeout    time.Duration

	CSVPath    string
	DBPath     string
	SampleRows int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	RequestTimeout time.Duration
	RefreshTimeout time.Duration

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	RefreshInterval time.Duration // background refresh; 0 disables the scheduler

	GeocoderAPIKey string // env only; enables coordinate fallback for unknown stations

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	CWA struct {
		DatasetURL string `yaml:"dataset_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"cwa"`

	Output struct {
		CSVPath    string `yaml:"csv_path"`
		DBPath     string `yaml:"db_path"`
		SampleRows int    `yaml:"sample_rows"`
	} `yaml:"output"`

	Request struct {
		Timeout        string `yaml:"timeout"`
		RefreshTimeout string `yaml:"refresh_timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerEnabled          *bool  `yaml:"breaker_enabled"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      string `yaml:"breaker_open_timeout"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Refresh struct {
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	CWAAPIKey      string `yaml:"cwa_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
}

// DefaultDatasetURL is the CWA county weather forecast (36h) open-data endpoint.
const DefaultDatasetURL = "https://opendata.cwa.gov.tw/api/v1/rest/datastore/F-C0032-001"

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, both relative to the working directory, with env
// overrides on top. A missing config file is not an error: the fetch CLI
// runs standalone on defaults. A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.CWADatasetURL = strings.TrimSpace(os.Getenv("CWA_DATASET_URL"))
	if cfg.CWADatasetURL == "" {
		cfg.CWADatasetURL = fc.CWA.DatasetURL
	}
	if cfg.CWADatasetURL == "" {
		cfg.CWADatasetURL = DefaultDatasetURL
	}
	cfg.CWATimeout = parseDuration(fc.CWA.Timeout, 10*time.Second)

	cfg.CWAAPIKey = os.Getenv("CWA_API_KEY")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	if cfg.CWAAPIKey == "" || cfg.GeocoderAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			if cfg.CWAAPIKey == "" {
				cfg.CWAAPIKey = sec.CWAAPIKey
			}
			if cfg.GeocoderAPIKey == "" {
				cfg.GeocoderAPIKey = sec.GeocoderAPIKey
			}
		}
	}

	cfg.CSVPath = fc.Output.CSVPath
	if cfg.CSVPath == "" {
		cfg.CSVPath = "temperatures.csv"
	}
	cfg.DBPath = fc.Output.DBPath
	if cfg.DBPath == "" {
		cfg.DBPath = "data.db"
	}
	cfg.SampleRows = fc.Output.SampleRows
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 15
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.RefreshTimeout = parseDuration(fc.Request.RefreshTimeout, 60*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cfg.BreakerEnabled = true
	if fc.Reliability.BreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.BreakerEnabled
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 2
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}

	cfg.RefreshInterval = parseDurationOrZero(fc.Refresh.Interval, 0)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on
// empty string or parse error. Zero and negative results pass through.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.CWATimeout <= 0 {
		return fmt.Errorf("cwa.timeout must be positive")
	}
	if cfg.RefreshTimeout <= cfg.CWATimeout {
		cfg.RefreshTimeout = cfg.CWATimeout + 10*time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
