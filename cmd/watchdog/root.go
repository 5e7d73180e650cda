package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/observability"
	"github.com/yujun2647/watchdog/internal/version"
	"github.com/yujun2647/watchdog/internal/workshop"
)

func rootCmd() *cobra.Command {
	var (
		cfgFile     string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "watchdog [address]",
		Short: "Single-host video surveillance daemon",
		Long: `watchdog captures one camera stream, detects people and vehicles in
the monitored zone, marks and serves the live feed over HTTP, records
event clips and plays audio warnings.

The address is a V4L2 device index ("0"), a device path (/dev/video0),
a network stream (rtsp://..., rtmp://..., http://...) or a video file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Println(version.Short())
				return nil
			}
			cfg, err := loadConfig(cmd, args, cfgFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml)")
	flags.BoolVarP(&showVersion, "version", "V", false, "print version and exit")
	flags.Int("port", 8000, "http listen port")
	flags.Int("width", 1280, "capture width")
	flags.Int("height", 720, "capture height")
	flags.Int("active-fps", config.DefaultActiveFPS(), "frame rate while the scene is active")
	flags.Int("rest-fps", 1, "frame rate while the scene is quiet")
	flags.Int("stream-fps", 30, "assumed native rate of the source")
	flags.Int("car-alart-secs", 120, "seconds before a blocking car is given up on")
	flags.String("cache-path", config.DefaultCachePath(), "clip cache directory")
	flags.Int("cache-days", 30, "days to keep recorded clips")
	flags.Int("rec-secs", config.DefaultRecSecs, "base clip length in seconds")
	flags.String("detector-url", "", "external detector base url (empty disables detection)")
	flags.Int("detect-workers", 2, "parallel detector workers")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	return cmd
}

// loadConfig layers the configuration: defaults, then .env and real
// environment (WATCHDOG_*), then the optional config file, then flags,
// then the positional address.
func loadConfig(cmd *cobra.Command, args []string, cfgFile string) (*config.Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		v.Set("camera.address", args[0])
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if cfg.Camera.Address == "" {
		return nil, fmt.Errorf("no camera address given (argument or WATCHDOG_CAMERA_ADDRESS)")
	}
	return cfg, nil
}

// bindFlags maps config keys onto their command-line flags, so flags win
// over file and environment values only when actually set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bind := map[string]string{
		"server.port":            "port",
		"camera.width":           "width",
		"camera.height":          "height",
		"camera.active_fps":      "active-fps",
		"camera.rest_fps":        "rest-fps",
		"camera.stream_fps":      "stream-fps",
		"monitor.car_alart_secs": "car-alart-secs",
		"recorder.cache_path":    "cache-path",
		"recorder.cache_days":    "cache-days",
		"recorder.rec_secs":      "rec-secs",
		"detect.url":             "detector-url",
		"detect.workers":         "detect-workers",
		"logging.level":          "log-level",
		"logging.format":         "log-format",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func run(cfg *config.Config) error {
	log, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("version", version.Short()),
		zap.String("address", cfg.Camera.Address),
		zap.Int("port", cfg.Server.Port))

	shop := workshop.New(cfg, version.Short(), log)
	if err := shop.Start(); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	defer shop.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- shop.Server().ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shop.Server().Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
	}
	return nil
}
