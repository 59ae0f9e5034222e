package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when AGENT_CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

type Config struct {
	App struct {
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Address         string `yaml:"address"`
		AdminAPIKey     string `yaml:"admin_api_key"`
		RateLimitPerMin int    `yaml:"rate_limit_per_minute"`
		ReadTimeoutSec  int    `yaml:"read_timeout_seconds"`
	} `yaml:"server"`

	Session struct {
		TTLMinutes      int    `yaml:"ttl_minutes"`
		SweepMinutes    int    `yaml:"sweep_interval_minutes"`
		MaxSessions     int    `yaml:"max_sessions"`
		HistoryLimit    int    `yaml:"history_limit"`
		Store           string `yaml:"store"` // memory | redis
		LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
		LockWaitSeconds int    `yaml:"lock_wait_seconds"`
	} `yaml:"session"`

	Agent struct {
		OffTrackThreshold int `yaml:"off_track_threshold"`
		TimeoutSeconds    int `yaml:"collaborator_timeout_seconds"`
		MaxMessageLength  int `yaml:"max_message_length"`
	} `yaml:"agent"`

	OTP struct {
		ExpiryMinutes int    `yaml:"expiry_minutes"`
		MaxAttempts   int    `yaml:"max_attempts"`
		Gateway       string `yaml:"gateway"` // whatsapp | log
		BaseURL       string `yaml:"base_url"`
		APIKey        string `yaml:"api_key"`
	} `yaml:"otp"`

	Knowledge struct {
		Enabled         bool   `yaml:"enabled"`
		APIKey          string `yaml:"api_key"`
		Model           string `yaml:"model"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		SeedFile        string `yaml:"seed_file"`
	} `yaml:"knowledge"`

	Notify struct {
		Enabled         bool    `yaml:"enabled"`
		IntervalSeconds int     `yaml:"interval_seconds"`
		BatchSize       int     `yaml:"batch_size"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		MaxConcurrent   int     `yaml:"max_concurrent"`
		JitterMaxMillis int     `yaml:"jitter_max_ms"`
	} `yaml:"notify"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Report ReportConfig `yaml:"report"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Catalog struct {
		Path               string `yaml:"path"`
		ReloadIntervalSecs int    `yaml:"reload_interval_seconds"`
	} `yaml:"catalog"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

type ReportConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Dir      string `yaml:"dir"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/booking_agent.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) ServerAddress() string {
	if c.Server.Address == "" {
		return ":8080"
	}
	return c.Server.Address
}

func (c *Config) RateLimitPerMinute() int {
	if c.Server.RateLimitPerMin <= 0 {
		return 10
	}
	return c.Server.RateLimitPerMin
}

func (c *Config) SessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	if c.Session.SweepMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Session.SweepMinutes) * time.Minute
}

func (c *Config) HistoryLimit() int {
	if c.Session.HistoryLimit <= 0 {
		return 20
	}
	return c.Session.HistoryLimit
}

func (c *Config) LockTTL() time.Duration {
	if c.Session.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Session.LockTTLSeconds) * time.Second
}

func (c *Config) LockWait() time.Duration {
	if c.Session.LockWaitSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Session.LockWaitSeconds) * time.Second
}

func (c *Config) OffTrackThreshold() int {
	if c.Agent.OffTrackThreshold <= 0 {
		return 6
	}
	return c.Agent.OffTrackThreshold
}

// CollaboratorTimeout bounds each OTP, database and knowledge call. It is
// never below three seconds.
func (c *Config) CollaboratorTimeout() time.Duration {
	if c.Agent.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	if c.Agent.TimeoutSeconds < 3 {
		return 3 * time.Second
	}
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

func (c *Config) MaxMessageLength() int {
	if c.Agent.MaxMessageLength <= 0 {
		return 1000
	}
	return c.Agent.MaxMessageLength
}

func (c *Config) OTPExpiry() time.Duration {
	if c.OTP.ExpiryMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.OTP.ExpiryMinutes) * time.Minute
}

func (c *Config) OTPMaxAttempts() int {
	if c.OTP.MaxAttempts <= 0 {
		return 3
	}
	return c.OTP.MaxAttempts
}

func (c *Config) KnowledgeModel() string {
	if c.Knowledge.Model == "" {
		return "gemini-1.5-flash"
	}
	return c.Knowledge.Model
}

func (c *Config) KnowledgeCacheTTL() time.Duration {
	if c.Knowledge.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Knowledge.CacheTTLSeconds) * time.Second
}

func (c *Config) CatalogReloadInterval() time.Duration {
	if c.Catalog.ReloadIntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.ReloadIntervalSecs) * time.Second
}

func (c *Config) HealthCheckPort() int {
	if c.Monitoring.HealthCheckPort == 0 {
		return 8090
	}
	return c.Monitoring.HealthCheckPort
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort == 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}

func (c *Config) BackupSchedule() string {
	if c.Backup.Schedule == "" {
		return "0 3 * * *"
	}
	return c.Backup.Schedule
}

func (c *Config) ReportSchedule() string {
	if c.Report.Schedule == "" {
		return "1 0 1 * *"
	}
	return c.Report.Schedule
}

func (c *Config) ReportDir() string {
	if c.Report.Dir == "" {
		return "reports"
	}
	return c.Report.Dir
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

func (c *Config) NotifyInterval() time.Duration {
	if c.Notify.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Notify.IntervalSeconds) * time.Second
}
