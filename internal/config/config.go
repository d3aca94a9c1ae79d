package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log           LogConfig           `yaml:"log"`
	Server        ServerConfig        `yaml:"server"`
	EyeTracking   EyeTrackingConfig   `yaml:"eye_tracking"`
	Fixation      FixationConfig      `yaml:"fixation"`
	FaceDetection FaceDetectionConfig `yaml:"face_detection"`
	Screens       ScreensConfig       `yaml:"screens"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Batch         BatchConfig         `yaml:"batch"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	GRPCPort int `yaml:"grpc_port"`
	HTTPPort int `yaml:"http_port"`
}

type EyeTrackingConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RawDataInterval time.Duration `yaml:"raw_data_interval"`
	StatusInterval  time.Duration `yaml:"status_interval"`
}

// FixationConfig tunes the eye-strain detector.
type FixationConfig struct {
	MovementThreshold float64 `yaml:"movement_threshold"`
	LimitMs           int64   `yaml:"limit_ms"`
}

type FaceDetectionConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	StreamURL   string        `yaml:"stream_url"`
	Mode        string        `yaml:"mode"` // "poll" or "stream"
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	FrameSource string        `yaml:"frame_source"` // "eyetracking" or "file"
	FramePath   string        `yaml:"frame_path"`
	MaxWidth    int           `yaml:"max_width"`
	MaxHeight   int           `yaml:"max_height"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

type ScreensConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AlertsTopic returns the Kafka topic alerts are published to, or "" when
// Kafka is not configured.
func (c KafkaConfig) AlertsTopic() string {
	if len(c.Brokers) == 0 {
		return ""
	}
	if t := c.Topics["alerts"]; t != "" {
		return t
	}
	return "proctor.alerts"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, matching the
// backends' stock local ports.
func Default() *Config {
	cfg := &Config{}
	cfg.FaceDetection.Enabled = true
	cfg.Screens.Enabled = true
	cfg.setDefaults()
	return cfg
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 9090
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9091
	}

	// Eye tracking backend
	if cfg.EyeTracking.BaseURL == "" {
		cfg.EyeTracking.BaseURL = "http://localhost:8080/api"
	}
	if cfg.EyeTracking.Timeout == 0 {
		cfg.EyeTracking.Timeout = 5 * time.Second
	}
	if cfg.EyeTracking.RawDataInterval == 0 {
		cfg.EyeTracking.RawDataInterval = 500 * time.Millisecond
	}
	if cfg.EyeTracking.StatusInterval == 0 {
		cfg.EyeTracking.StatusInterval = time.Second
	}

	if cfg.Fixation.MovementThreshold == 0 {
		cfg.Fixation.MovementThreshold = 50
	}
	if cfg.Fixation.LimitMs == 0 {
		cfg.Fixation.LimitMs = 5000
	}

	// Face detection backend
	if cfg.FaceDetection.URL == "" {
		cfg.FaceDetection.URL = "http://localhost:8000/detect"
	}
	if cfg.FaceDetection.StreamURL == "" {
		cfg.FaceDetection.StreamURL = "ws://localhost:8000/ws"
	}
	if cfg.FaceDetection.Mode == "" {
		cfg.FaceDetection.Mode = "poll"
	}
	if cfg.FaceDetection.Interval == 0 {
		cfg.FaceDetection.Interval = time.Second
	}
	if cfg.FaceDetection.Timeout == 0 {
		cfg.FaceDetection.Timeout = 10 * time.Second
	}
	if cfg.FaceDetection.FrameSource == "" {
		cfg.FaceDetection.FrameSource = "eyetracking"
	}
	if cfg.FaceDetection.MaxWidth == 0 {
		cfg.FaceDetection.MaxWidth = 640
	}
	if cfg.FaceDetection.MaxHeight == 0 {
		cfg.FaceDetection.MaxHeight = 480
	}
	if cfg.FaceDetection.JPEGQuality == 0 {
		cfg.FaceDetection.JPEGQuality = 85
	}

	// Screen count backend
	if cfg.Screens.URL == "" {
		cfg.Screens.URL = "http://localhost:8001/screen-count"
	}
	if cfg.Screens.Timeout == 0 {
		cfg.Screens.Timeout = 5 * time.Second
	}

	// Unset ${KAFKA_BROKER} leaves an empty entry
	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "proctor-alert-archiver"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 500
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
}
