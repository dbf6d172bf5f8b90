package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "bluecast/pkg/logx"
)

// Sink names accepted in broadcast.sinks_enabled.
const (
	SinkSpeech       = "speech"
	SinkNotification = "notification"
	SinkConsole      = "console"
	SinkLog          = "log"
	SinkHistory      = "history"
)

// scheduleParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var knownSinks = map[string]bool{
	SinkSpeech:       true,
	SinkNotification: true,
	SinkConsole:      true,
	SinkLog:          true,
	SinkHistory:      true,
}

// Defaults returns the configuration used for every omitted field.
func Defaults() *Config {
	return &Config{
		Bluetooth: BluetoothConfig{
			Adapter:      "hci0",
			Channel:      1,
			Alias:        "bluecast",
			Discoverable: true,
		},
		Link: LinkConfig{
			BackoffSteps:    []string{"5s", "10s", "20s", "40s", "60s"},
			MaxFrameBytes:   1024,
			MaxMessageChars: 1000,
			FramesPerSec:    20,
			Ack:             true,
		},
		Cache: CacheConfig{
			TTLStatus:      "30s",
			TTLDevices:     "60s",
			TTLAdapterInfo: "120s",
			QueryTimeout:   "10s",
		},
		Broadcast: BroadcastConfig{
			SinksEnabled:  []string{SinkSpeech, SinkNotification, SinkConsole, SinkLog},
			SinkTimeout:   "35s",
			StopGrace:     "2s",
			DefaultVolume: 80,
			LogPath:       "./logs/messages.log",
			Speech: SpeechConfig{
				Command:  "espeak",
				Rate:     150,
				MaxChars: 200,
			},
			Notification: NotificationConfig{
				Title:      "Bluetooth Message",
				Timeout:    "5s",
				MaxChars:   100,
				RatePerSec: 2,
			},
			History: HistoryConfig{
				Driver: "sqlite",
				Path:   "./logs/history.db",
			},
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Enabled: true, Path: "./logs/bluecast.log"},
		},
	}
}

// Validate checks every field that can be wrong independently of the host.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if cfg.Bluetooth.Channel < 1 || cfg.Bluetooth.Channel > 30 {
		errs = append(errs, fmt.Errorf("bluetooth.channel must be within 1..30, got %d", cfg.Bluetooth.Channel))
	}
	for _, a := range cfg.Bluetooth.AllowedDevices {
		if !validAddress(a) {
			errs = append(errs, fmt.Errorf("bluetooth.allowed_devices: invalid address %q", a))
		}
	}

	if _, err := BackoffSteps(cfg); err != nil {
		errs = append(errs, err)
	}
	if cfg.Link.MaxFrameBytes < 16 {
		errs = append(errs, fmt.Errorf("link.max_frame_bytes must be >= 16"))
	}
	if cfg.Link.MaxMessageChars < 0 {
		errs = append(errs, fmt.Errorf("link.max_message_chars must be >= 0"))
	}
	if cfg.Link.FramesPerSec < 0 {
		errs = append(errs, fmt.Errorf("link.frames_per_sec must be >= 0"))
	}

	for path, raw := range map[string]string{
		"cache.cache_ttl_status":         cfg.Cache.TTLStatus,
		"cache.cache_ttl_devices":        cfg.Cache.TTLDevices,
		"cache.cache_ttl_adapter_info":   cfg.Cache.TTLAdapterInfo,
		"cache.query_timeout":            cfg.Cache.QueryTimeout,
		"broadcast.sink_timeout":         cfg.Broadcast.SinkTimeout,
		"broadcast.stop_grace":           cfg.Broadcast.StopGrace,
		"broadcast.notification.timeout": cfg.Broadcast.Notification.Timeout,
		"broadcast.history.busy_timeout": cfg.Broadcast.History.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	for _, s := range cfg.Broadcast.SinksEnabled {
		if !knownSinks[strings.ToLower(strings.TrimSpace(s))] {
			errs = append(errs, fmt.Errorf("broadcast.sinks_enabled: unknown sink %q", s))
		}
	}
	if cfg.Broadcast.DefaultVolume < 0 || cfg.Broadcast.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("broadcast.default_volume must be within 0..100"))
	}
	if strings.TrimSpace(cfg.Broadcast.LogPath) == "" && SinkEnabled(cfg, SinkLog) {
		errs = append(errs, fmt.Errorf("broadcast.log_path is required when the log sink is enabled"))
	}
	if SinkEnabled(cfg, SinkHistory) {
		switch strings.ToLower(strings.TrimSpace(cfg.Broadcast.History.Driver)) {
		case "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("broadcast.history.driver: unknown driver %q", cfg.Broadcast.History.Driver))
		}
	}
	if cfg.Broadcast.Notification.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("broadcast.notification.rate_per_sec must be >= 0"))
	}

	if cfg.Monitor.Enabled {
		if _, err := scheduleParser.Parse(strings.TrimSpace(cfg.Monitor.Schedule)); err != nil {
			errs = append(errs, fmt.Errorf("monitor.schedule: %w", err))
		}
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	return errors.Join(errs...)
}

// SinkEnabled reports whether name is listed in broadcast.sinks_enabled.
func SinkEnabled(cfg *Config, name string) bool {
	for _, s := range cfg.Broadcast.SinksEnabled {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

// EnabledSinks returns the normalized, de-duplicated sink set.
func EnabledSinks(cfg *Config) map[string]bool {
	out := make(map[string]bool, len(cfg.Broadcast.SinksEnabled))
	for _, s := range cfg.Broadcast.SinksEnabled {
		out[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return out
}

// BackoffSteps parses link.backoff_steps. An empty list falls back to the default schedule.
func BackoffSteps(cfg *Config) ([]time.Duration, error) {
	raw := cfg.Link.BackoffSteps
	if len(raw) == 0 {
		raw = Defaults().Link.BackoffSteps
	}
	out := make([]time.Duration, 0, len(raw))
	for i, s := range raw {
		d, err := ParseDurationField(fmt.Sprintf("link.backoff_steps[%d]", i), s)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("link.backoff_steps[%d]: must be > 0", i)
		}
		out = append(out, d)
	}
	return out, nil
}

// CacheTTLs holds the parsed cache section.
type CacheTTLs struct {
	Status       time.Duration
	Devices      time.Duration
	AdapterInfo  time.Duration
	QueryTimeout time.Duration
}

func ParseCacheTTLs(cfg *Config) (CacheTTLs, error) {
	var out CacheTTLs
	var err error
	if out.Status, err = ParseDurationOrDefault("cache.cache_ttl_status", cfg.Cache.TTLStatus, 30*time.Second); err != nil {
		return out, err
	}
	if out.Devices, err = ParseDurationOrDefault("cache.cache_ttl_devices", cfg.Cache.TTLDevices, 60*time.Second); err != nil {
		return out, err
	}
	if out.AdapterInfo, err = ParseDurationOrDefault("cache.cache_ttl_adapter_info", cfg.Cache.TTLAdapterInfo, 120*time.Second); err != nil {
		return out, err
	}
	if out.QueryTimeout, err = ParseDurationOrDefault("cache.query_timeout", cfg.Cache.QueryTimeout, 10*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// SystemLogPath returns broadcast.system_log_path or "system.log" next to the message log.
func SystemLogPath(cfg *Config) string {
	if p := strings.TrimSpace(cfg.Broadcast.SystemLogPath); p != "" {
		return p
	}
	dir := filepath.Dir(strings.TrimSpace(cfg.Broadcast.LogPath))
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "system.log")
}

func validAddress(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		for _, c := range p {
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			default:
				return false
			}
		}
	}
	return true
}

