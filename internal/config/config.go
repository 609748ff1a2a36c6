package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	H3        H3Config        `mapstructure:"h3"`
	Bounds    BoundsConfig    `mapstructure:"bounds"`
	Window    WindowConfig    `mapstructure:"window"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	GBFS      GBFSConfig      `mapstructure:"gbfs"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// H3Config lists grid resolutions from finest to coarsest.
type H3Config struct {
	Resolutions       []int `mapstructure:"resolutions"`
	DefaultResolution int   `mapstructure:"default_resolution"`
}

// BoundsConfig is the service area outside of which reports are dropped.
type BoundsConfig struct {
	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLon float64 `mapstructure:"min_lon"`
	MaxLon float64 `mapstructure:"max_lon"`
}

type WindowConfig struct {
	SizeMinutes      int `mapstructure:"size_minutes"`
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

// Retention returns the retention window as a duration.
func (w WindowConfig) Retention() time.Duration {
	return time.Duration(w.RetentionMinutes) * time.Minute
}

type StorageConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type KafkaConfig struct {
	Brokers      string        `mapstructure:"brokers"`
	TopicRaw     string        `mapstructure:"topic_raw"`
	GroupID      string        `mapstructure:"group_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// BrokerList splits the comma separated broker string.
func (k KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type GBFSConfig struct {
	URL           string        `mapstructure:"url"`
	FetchInterval time.Duration `mapstructure:"fetch_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	HealthPort string        `mapstructure:"health_port"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const envPrefix = "SCOOTERMAP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ScooterMap")
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("database.path", "./data/mobility.db")

	// Aachen core metropolitan area
	v.SetDefault("h3.resolutions", []int{9, 8, 7, 6})
	v.SetDefault("h3.default_resolution", 8)
	v.SetDefault("bounds.min_lat", 50.72)
	v.SetDefault("bounds.max_lat", 50.82)
	v.SetDefault("bounds.min_lon", 6.03)
	v.SetDefault("bounds.max_lon", 6.14)

	v.SetDefault("window.size_minutes", 5)
	v.SetDefault("window.retention_minutes", 60)

	// 150 * 20ms = 3s upper bound on lock waits
	v.SetDefault("storage.retry_attempts", 150)
	v.SetDefault("storage.retry_delay", 20*time.Millisecond)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic_raw", "gbfs.raw")
	v.SetDefault("kafka.group_id", "h3-aggregator")
	v.SetDefault("kafka.batch_size", 1000)
	v.SetDefault("kafka.batch_timeout", 5*time.Second)

	v.SetDefault("gbfs.url", "https://gbfs.api.ridedott.com/public/v2/aachen/free_bike_status.json")
	v.SetDefault("gbfs.fetch_interval", 60*time.Second)
	v.SetDefault("gbfs.timeout", 10*time.Second)

	v.SetDefault("worker.health_port", ":8001")
	v.SetDefault("worker.stale_after", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("ratelimit.requests", 120)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load 加载配置. An empty path uses defaults and environment variables only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the config file path from the environment or the configs directory.
func Path() string {
	if path := os.Getenv(envPrefix + "_CONFIG_PATH"); path != "" {
		return path
	}

	configPath := filepath.Join("configs", "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}
	return ""
}

// Validate checks the invariants the aggregation engine relies on.
func (c *Config) Validate() error {
	res := c.H3.Resolutions
	if len(res) == 0 {
		return errors.New("config: h3.resolutions must not be empty")
	}
	for i, r := range res {
		if r < 0 || r > 15 {
			return fmt.Errorf("config: h3 resolution %d out of range [0,15]", r)
		}
		if i > 0 && r >= res[i-1] {
			return fmt.Errorf("config: h3.resolutions must be ordered finest to coarsest without duplicates, got %v", res)
		}
	}
	if !c.HasResolution(c.H3.DefaultResolution) {
		return fmt.Errorf("config: default resolution %d is not one of %v", c.H3.DefaultResolution, res)
	}

	b := c.Bounds
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("config: invalid bounding box lat [%v,%v] lon [%v,%v]", b.MinLat, b.MaxLat, b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return errors.New("config: bounding box outside valid coordinates")
	}

	if c.Window.RetentionMinutes <= 0 {
		return errors.New("config: window.retention_minutes must be positive")
	}
	if c.Storage.RetryAttempts < 1 {
		return errors.New("config: storage.retry_attempts must be at least 1")
	}
	if c.Storage.RetryDelay < 0 {
		return errors.New("config: storage.retry_delay must not be negative")
	}
	return nil
}

// HasResolution reports whether r is a configured resolution.
func (c *Config) HasResolution(r int) bool {
	for _, res := range c.H3.Resolutions {
		if res == r {
			return true
		}
	}
	return false
}
