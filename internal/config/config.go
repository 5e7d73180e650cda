// Package config defines the daemon configuration and the pipeline
// constants shared across stages.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Queue capacities. The camera store is deliberately small so stalls show
// up as drops at the head of the pipeline instead of latency.
const (
	CamStoreQueueSize     = 15
	Frame4MarkQueueSize   = 360
	Frame4DetectQueueSize = 360
	DetectLabelsQueueSize = 360
	SenseQueueSize        = 360
	RenderQueueSize       = 10
	RecordQueueSize       = 24
	AudioQueueSize        = 64
)

// Camera stage tunables.
const (
	ReadFrameFailedTolerate = 5
	DistributorMissTolerate = 3
	OpenRetryTimes          = 3
	OpenRetryInterval       = 500 * time.Millisecond
)

// Sensor hysteresis thresholds, in seconds of continuous evidence.
const (
	PersonSenseSecTH     = 0.5
	PersonNotSenseSecTH  = 1.5
	DefaultSenseSecTH    = 0.1
	DefaultNotSenseSecTH = 0.5
	// NotSenseFrameFloor absorbs 1-2 frame missed detections at low fps.
	NotSenseFrameFloor = 6

	MinDetectArea     = 0.02
	MaxDetectAreaCar  = 0.5
	MaxDetectArea     = 0.75
)

// CenterBox is the monitored region of interest, as fractions of the
// frame. Immutable after start.
var CenterBox = struct {
	X0, X1, Y0, Y1 float64
}{X0: 0.25, X1: 0.90, Y0: 0.20, Y1: 0.95}

// Recorder/encoder tunables.
const (
	DefaultRecSecs  = 60
	EncoderBitRate  = 500_000
	CarWarnBurst    = 30
	StreamJPEGQual  = 17
	ViewWindow      = 10 * time.Second
	LiveNextTimeout = 5 * time.Second
)

// Config is the full daemon configuration, populated by viper from flags,
// environment and an optional config file.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type CameraConfig struct {
	Address   string `mapstructure:"address"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	ActiveFPS int    `mapstructure:"active_fps"`
	RestFPS   int    `mapstructure:"rest_fps"`
	// StreamFPS is the fallback native rate, used until the source's
	// real rate is queried at open (and kept when the query fails).
	// Effective fps never exceeds the stream rate.
	StreamFPS int `mapstructure:"stream_fps"`
}

type MonitorConfig struct {
	CarAlertSecs int `mapstructure:"car_alart_secs"`
}

type RecorderConfig struct {
	CachePath string `mapstructure:"cache_path"`
	CacheDays int    `mapstructure:"cache_days"`
	RecSecs   int    `mapstructure:"rec_secs"`
}

type DetectConfig struct {
	URL     string `mapstructure:"url"`
	Workers int    `mapstructure:"workers"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultActiveFPS is twice the CPU count, the rate one host can
// realistically mark and encode.
func DefaultActiveFPS() int {
	return 2 * runtime.NumCPU()
}

// DefaultCachePath is $HOME/.watchdog/video_cache.
func DefaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".watchdog", "video_cache")
}

// SetDefaults registers the built-in defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("camera.address", "")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.active_fps", DefaultActiveFPS())
	v.SetDefault("camera.rest_fps", 1)
	v.SetDefault("camera.stream_fps", 30)
	v.SetDefault("monitor.car_alart_secs", 120)
	v.SetDefault("recorder.cache_path", DefaultCachePath())
	v.SetDefault("recorder.cache_days", 30)
	v.SetDefault("recorder.rec_secs", DefaultRecSecs)
	v.SetDefault("detect.url", "")
	v.SetDefault("detect.workers", 2)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load unpacks the viper state into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.RestFPS <= 0 {
		return fmt.Errorf("rest fps must be positive, got %d", c.Camera.RestFPS)
	}
	if c.Camera.ActiveFPS < c.Camera.RestFPS {
		return fmt.Errorf("active fps %d below rest fps %d", c.Camera.ActiveFPS, c.Camera.RestFPS)
	}
	if c.Monitor.CarAlertSecs <= 0 {
		return fmt.Errorf("car alert seconds must be positive, got %d", c.Monitor.CarAlertSecs)
	}
	if c.Recorder.CacheDays <= 0 {
		return fmt.Errorf("cache days must be positive, got %d", c.Recorder.CacheDays)
	}
	if c.Detect.Workers <= 0 {
		return fmt.Errorf("detect workers must be positive, got %d", c.Detect.Workers)
	}
	return nil
}
