package app

import (
	"fmt"
	"strings"
	"time"

	"bluecast/internal/broadcast"
	"bluecast/internal/config"
	"bluecast/internal/link"
	"bluecast/internal/monitor"
	"bluecast/internal/receiver"
	"bluecast/internal/storage"
	logx "bluecast/pkg/logx"
)

// mapStorageConfig returns the history store config. enabled is false when
// the history sink is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || !config.SinkEnabled(cfg, config.SinkHistory) {
		return storage.Config{}, false, nil
	}
	hc := cfg.Broadcast.History
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	path := strings.TrimSpace(hc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./logs/history.jsonl"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("broadcast.history.path is required when driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("broadcast.history.busy_timeout", hc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown broadcast.history.driver: %s", hc.Driver)
	}
}

func mapLinkConfig(cfg *config.Config) (link.Config, error) {
	steps, err := config.BackoffSteps(cfg)
	if err != nil {
		return link.Config{}, err
	}
	return link.Config{
		Channel:        cfg.Bluetooth.Channel,
		Backoff:        steps,
		MaxFrameBytes:  cfg.Link.MaxFrameBytes,
		FramesPerSec:   cfg.Link.FramesPerSec,
		AllowedDevices: cfg.Bluetooth.AllowedDevices,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (broadcast.Config, error) {
	timeout, err := config.ParseDurationOrDefault("broadcast.sink_timeout", cfg.Broadcast.SinkTimeout, 35*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("broadcast.stop_grace", cfg.Broadcast.StopGrace, 2*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	enabled := make([]string, 0, len(cfg.Broadcast.SinksEnabled))
	for name := range config.EnabledSinks(cfg) {
		enabled = append(enabled, name)
	}
	return broadcast.Config{Enabled: enabled, SinkTimeout: timeout, StopGrace: grace}, nil
}

func mapSpeechConfig(cfg *config.Config) broadcast.SpeechConfig {
	sc := cfg.Broadcast.Speech
	return broadcast.SpeechConfig{Command: sc.Command, Voice: sc.Voice, Rate: sc.Rate, MaxChars: sc.MaxChars}
}

func mapNotificationConfig(cfg *config.Config) (broadcast.NotificationConfig, error) {
	nc := cfg.Broadcast.Notification
	timeout, err := config.ParseDurationOrDefault("broadcast.notification.timeout", nc.Timeout, 5*time.Second)
	if err != nil {
		return broadcast.NotificationConfig{}, err
	}
	return broadcast.NotificationConfig{Title: nc.Title, Timeout: timeout, MaxChars: nc.MaxChars, RatePerSec: nc.RatePerSec}, nil
}

func mapReceiverConfig(cfg *config.Config) receiver.Config {
	return receiver.Config{
		MaxMessageChars: cfg.Link.MaxMessageChars,
		Ack:             cfg.Link.Ack,
		StatusToSpeech:  cfg.Broadcast.StatusToSpeech,
	}
}

func mapMonitorConfig(cfg *config.Config, queryTimeout time.Duration) monitor.Config {
	return monitor.Config{Enabled: cfg.Monitor.Enabled, Schedule: cfg.Monitor.Schedule, Timeout: 2 * queryTimeout}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// CheckConfig runs every mapping so a config that would fail at start or on
// reload is rejected up front.
func CheckConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLinkConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotificationConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseCacheTTLs(cfg); err != nil {
		return err
	}
	if cfg.Monitor.Enabled {
		if _, err := monitor.ParseSchedule(cfg.Monitor.Schedule); err != nil {
			return fmt.Errorf("monitor.schedule: %w", err)
		}
	}
	return nil
}
