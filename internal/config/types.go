package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "2m").
// Omitted fields keep the values from Defaults().
type Config struct {
	Bluetooth BluetoothConfig `json:"bluetooth"`
	Link      LinkConfig      `json:"link"`
	Cache     CacheConfig     `json:"cache"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Monitor   MonitorConfig   `json:"monitor"`
	Logging   LoggingConfig   `json:"logging"`
}

// BluetoothConfig describes the local adapter and the RFCOMM channel the
// serial profile listens on.
type BluetoothConfig struct {
	Adapter      string `json:"adapter"` // default: "hci0"
	Channel      int    `json:"channel"` // RFCOMM channel, 1..30
	Alias        string `json:"alias"`   // friendly name advertised to peers
	Discoverable bool   `json:"discoverable"`

	// AllowedDevices restricts which peer addresses may connect.
	// Empty means any paired device is accepted.
	AllowedDevices []string `json:"allowed_devices,omitempty"`
}

// LinkConfig controls the connection manager.
type LinkConfig struct {
	// BackoffSteps is the wait schedule after consecutive link failures.
	// The last step repeats once the schedule is exhausted.
	BackoffSteps []string `json:"backoff_steps"`

	MaxFrameBytes   int  `json:"max_frame_bytes"`
	MaxMessageChars int  `json:"max_message_chars"`
	FramesPerSec    int  `json:"frames_per_sec"` // 0 disables read throttling
	Ack             bool `json:"ack"`
}

// CacheConfig holds per-query TTLs for the status cache.
type CacheConfig struct {
	TTLStatus      string `json:"cache_ttl_status"`
	TTLDevices     string `json:"cache_ttl_devices"`
	TTLAdapterInfo string `json:"cache_ttl_adapter_info"`
	// QueryTimeout bounds a single D-Bus query made on a cache miss.
	QueryTimeout string `json:"query_timeout"`
}

type BroadcastConfig struct {
	SinksEnabled   []string `json:"sinks_enabled"`
	SinkTimeout    string   `json:"sink_timeout"`
	StopGrace      string   `json:"stop_grace"`
	DefaultVolume  int      `json:"default_volume"`
	StatusToSpeech bool     `json:"status_to_speech"`
	LogPath        string   `json:"log_path"`
	// SystemLogPath receives connection/service events. Defaults to
	// "system.log" next to LogPath.
	SystemLogPath string `json:"system_log_path,omitempty"`

	Speech       SpeechConfig       `json:"speech"`
	Notification NotificationConfig `json:"notification"`
	History      HistoryConfig      `json:"history"`
}

type SpeechConfig struct {
	Command  string `json:"command"` // default: "espeak"
	Voice    string `json:"voice,omitempty"`
	Rate     int    `json:"rate"` // words per minute
	MaxChars int    `json:"max_chars"`
}

type NotificationConfig struct {
	Title      string `json:"title"`
	Timeout    string `json:"timeout"`
	MaxChars   int    `json:"max_chars"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HistoryConfig controls the optional message history sink.
//
// Driver values:
//   - "file":   JSON Lines file
//   - "sqlite": SQLite database file
//
// The sink is only active when "history" is listed in sinks_enabled.
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MonitorConfig controls the periodic status log line.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a robfig/cron spec, e.g. "@every 5m" or "*/10 * * * *".
	Schedule string `json:"schedule"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
