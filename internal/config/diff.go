package config

import (
	"reflect"
	"strings"

	logx "bluecast/pkg/logx"
)

// Change summarizes what differs between two configs.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// RestartRequired lists sections whose new values only take effect after
	// the process is restarted (the listening channel, open file paths).
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares oldCfg and newCfg section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Bluetooth, newCfg.Bluetooth) {
		ch.Sections = append(ch.Sections, "bluetooth")
		ch.Fields = append(ch.Fields,
			logx.Int("bluetooth.channel", newCfg.Bluetooth.Channel),
			logx.Int("bluetooth.allowed_devices", len(newCfg.Bluetooth.AllowedDevices)),
		)
		if oldCfg.Bluetooth.Channel != newCfg.Bluetooth.Channel ||
			oldCfg.Bluetooth.Adapter != newCfg.Bluetooth.Adapter {
			ch.RestartRequired = append(ch.RestartRequired, "bluetooth")
		}
	}

	if !reflect.DeepEqual(oldCfg.Link, newCfg.Link) {
		ch.Sections = append(ch.Sections, "link")
		ch.Fields = append(ch.Fields,
			logx.Strings("link.backoff_steps", newCfg.Link.BackoffSteps),
			logx.Int("link.frames_per_sec", newCfg.Link.FramesPerSec),
		)
	}

	if oldCfg.Cache != newCfg.Cache {
		ch.Sections = append(ch.Sections, "cache")
		ch.Fields = append(ch.Fields,
			logx.String("cache.ttl_status", newCfg.Cache.TTLStatus),
			logx.String("cache.ttl_devices", newCfg.Cache.TTLDevices),
			logx.String("cache.ttl_adapter_info", newCfg.Cache.TTLAdapterInfo),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		ch.Sections = append(ch.Sections, "broadcast")
		ch.Fields = append(ch.Fields,
			logx.Strings("broadcast.sinks_enabled", newCfg.Broadcast.SinksEnabled),
			logx.String("broadcast.sink_timeout", newCfg.Broadcast.SinkTimeout),
		)
		if strings.TrimSpace(oldCfg.Broadcast.LogPath) != strings.TrimSpace(newCfg.Broadcast.LogPath) ||
			oldCfg.Broadcast.History != newCfg.Broadcast.History ||
			SystemLogPath(oldCfg) != SystemLogPath(newCfg) {
			ch.RestartRequired = append(ch.RestartRequired, "broadcast")
		}
	}

	if oldCfg.Monitor != newCfg.Monitor {
		ch.Sections = append(ch.Sections, "monitor")
		ch.Fields = append(ch.Fields,
			logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
			logx.String("monitor.schedule", newCfg.Monitor.Schedule),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	return ch
}
