package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"trafficsim/internal/logging"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigin      string

	TickInterval     time.Duration
	MetricsInterval  time.Duration
	MinGreen         int
	MaxGreen         int
	SpawnProbability float64
	MaxVehicles      int
	Seed             uint64
	CommandQueueSize int

	AutoConfigureCity string
	AutoConnect       bool
	AutoStart         bool
	TileZoomLevel     int

	RedisEnabled      bool
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	CacheTTL          time.Duration
	MirrorInterval    time.Duration
	MirrorTransitions int

	HistoryEnabled bool
	HistoryDriver  string
	HistoryDSN     string
	HistoryBuffer  int

	InfluxEnabled bool
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	InfluxBackup  string

	GraylogEnabled bool
	GraylogAddr    string

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("read_timeout", "10s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("cors_origin", "*")

	v.SetDefault("tick_interval", "30ms")
	v.SetDefault("metrics_interval", "1s")
	v.SetDefault("min_green", 10)
	v.SetDefault("max_green", 45)
	v.SetDefault("spawn_probability", 0.06)
	v.SetDefault("max_vehicles", 35)
	v.SetDefault("seed", 0)
	v.SetDefault("command_queue_size", 64)

	v.SetDefault("auto_configure_city", "")
	v.SetDefault("auto_connect", false)
	v.SetDefault("auto_start", false)
	v.SetDefault("tile_zoom_level", 16)

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("mirror_interval", "5s")
	v.SetDefault("mirror_transitions", 100)

	v.SetDefault("history_enabled", false)
	v.SetDefault("history_driver", "sqlite")
	v.SetDefault("history_dsn", "trafficsim.db")
	v.SetDefault("history_buffer", 1024)

	v.SetDefault("influx_enabled", false)
	v.SetDefault("influx_url", "http://localhost:8086")
	v.SetDefault("influx_token", "")
	v.SetDefault("influx_org", "trafficsim")
	v.SetDefault("influx_bucket", "trafficsim")
	v.SetDefault("influx_backup_path", "trafficsim-influx.lp.gz")

	v.SetDefault("graylog_enabled", false)
	v.SetDefault("graylog_addr", "localhost:12201")

	v.SetDefault("rate_limit_per_window", 60)
	v.SetDefault("rate_limit_window", "1m")
	v.SetDefault("rate_limit_whitelist", "")
}

// Load reads the configuration from defaults, then the optional file, then
// environment variables named after the upper-case keys (HTTP_ADDR, ...).
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		LogLevel:        logging.ParseLevel(v.GetString("log_level"), slog.LevelInfo),
		HTTPAddr:        v.GetString("http_addr"),
		ReadTimeout:     v.GetDuration("read_timeout"),
		WriteTimeout:    v.GetDuration("write_timeout"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		CORSOrigin:      v.GetString("cors_origin"),

		TickInterval:     v.GetDuration("tick_interval"),
		MetricsInterval:  v.GetDuration("metrics_interval"),
		MinGreen:         v.GetInt("min_green"),
		MaxGreen:         v.GetInt("max_green"),
		SpawnProbability: v.GetFloat64("spawn_probability"),
		MaxVehicles:      v.GetInt("max_vehicles"),
		Seed:             v.GetUint64("seed"),
		CommandQueueSize: v.GetInt("command_queue_size"),

		AutoConfigureCity: v.GetString("auto_configure_city"),
		AutoConnect:       v.GetBool("auto_connect"),
		AutoStart:         v.GetBool("auto_start"),
		TileZoomLevel:     v.GetInt("tile_zoom_level"),

		RedisEnabled:      v.GetBool("redis_enabled"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		RedisDB:           v.GetInt("redis_db"),
		CacheTTL:          v.GetDuration("cache_ttl"),
		MirrorInterval:    v.GetDuration("mirror_interval"),
		MirrorTransitions: v.GetInt("mirror_transitions"),

		HistoryEnabled: v.GetBool("history_enabled"),
		HistoryDriver:  v.GetString("history_driver"),
		HistoryDSN:     v.GetString("history_dsn"),
		HistoryBuffer:  v.GetInt("history_buffer"),

		InfluxEnabled: v.GetBool("influx_enabled"),
		InfluxURL:     v.GetString("influx_url"),
		InfluxToken:   v.GetString("influx_token"),
		InfluxOrg:     v.GetString("influx_org"),
		InfluxBucket:  v.GetString("influx_bucket"),
		InfluxBackup:  v.GetString("influx_backup_path"),

		GraylogEnabled: v.GetBool("graylog_enabled"),
		GraylogAddr:    v.GetString("graylog_addr"),

		RateLimitPerWindow: v.GetInt("rate_limit_per_window"),
		RateLimitWindow:    v.GetDuration("rate_limit_window"),
		RateLimitWhitelist: splitCSV(v.GetString("rate_limit_whitelist")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.MetricsInterval < c.TickInterval {
		return fmt.Errorf("metrics_interval %s is shorter than tick_interval %s", c.MetricsInterval, c.TickInterval)
	}
	if c.SpawnProbability < 0 || c.SpawnProbability > 1 {
		return fmt.Errorf("spawn_probability must be within [0,1], got %v", c.SpawnProbability)
	}
	if c.MaxVehicles < 0 {
		return fmt.Errorf("max_vehicles must not be negative, got %d", c.MaxVehicles)
	}
	switch c.HistoryDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported history_driver %q", c.HistoryDriver)
	}
	return nil
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}
