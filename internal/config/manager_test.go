package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bluetooth.Channel != 1 {
		t.Fatalf("channel = %d, want 1", cfg.Bluetooth.Channel)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit config")
	}
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluecast.yaml")
	writeFile(t, path, `
bluetooth:
  channel: 3
link:
  backoff_steps: ["1s", "2s"]
cache:
  cache_ttl_status: 15s
broadcast:
  sinks_enabled: [console, log]
  default_volume: 40
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Bluetooth.Channel != 3 {
		t.Fatalf("channel = %d, want 3", cfg.Bluetooth.Channel)
	}
	if cfg.Bluetooth.Alias != "bluecast" {
		t.Fatalf("alias default lost: %q", cfg.Bluetooth.Alias)
	}
	steps, err := BackoffSteps(cfg)
	if err != nil {
		t.Fatalf("BackoffSteps: %v", err)
	}
	if len(steps) != 2 || steps[0] != time.Second || steps[1] != 2*time.Second {
		t.Fatalf("steps = %v", steps)
	}
	ttls, err := ParseCacheTTLs(cfg)
	if err != nil {
		t.Fatalf("ParseCacheTTLs: %v", err)
	}
	if ttls.Status != 15*time.Second || ttls.Devices != 60*time.Second || ttls.AdapterInfo != 120*time.Second {
		t.Fatalf("ttls = %+v", ttls)
	}
	if SinkEnabled(cfg, SinkSpeech) || !SinkEnabled(cfg, SinkConsole) {
		t.Fatalf("sinks = %v", cfg.Broadcast.SinksEnabled)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluecast.json")
	writeFile(t, path, `{"bluetooth":{"channel":1,"colour":"blue"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "channel", mutate: func(c *Config) { c.Bluetooth.Channel = 0 }, want: "bluetooth.channel"},
		{name: "backoff", mutate: func(c *Config) { c.Link.BackoffSteps = []string{"5s", "soon"} }, want: "backoff_steps[1]"},
		{name: "sink", mutate: func(c *Config) { c.Broadcast.SinksEnabled = []string{"fax"} }, want: "unknown sink"},
		{name: "volume", mutate: func(c *Config) { c.Broadcast.DefaultVolume = 101 }, want: "default_volume"},
		{name: "ttl", mutate: func(c *Config) { c.Cache.TTLDevices = "-1s" }, want: "cache_ttl_devices"},
		{name: "schedule", mutate: func(c *Config) { c.Monitor.Schedule = "whenever" }, want: "monitor.schedule"},
		{name: "address", mutate: func(c *Config) { c.Bluetooth.AllowedDevices = []string{"AA:BB"} }, want: "allowed_devices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluecast.yaml")
	writeFile(t, path, "broadcast:\n  default_volume: 10\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	published, err := m.Reload(context.Background())
	if err != nil || published {
		t.Fatalf("Reload unchanged = (%v, %v), want (false, nil)", published, err)
	}

	writeFile(t, path, "broadcast:\n  default_volume: 20\n")
	published, err = m.Reload(context.Background())
	if err != nil || !published {
		t.Fatalf("Reload changed = (%v, %v), want (true, nil)", published, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Broadcast.DefaultVolume != 20 {
			t.Fatalf("published volume = %d", cfg.Broadcast.DefaultVolume)
		}
	default:
		t.Fatal("no config published")
	}

	writeFile(t, path, "broadcast:\n  default_volume: 500\n")
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if m.Get().Broadcast.DefaultVolume != 20 {
		t.Fatalf("invalid config was committed")
	}
}

func TestSummarizeFlagsRestart(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Bluetooth.Channel = 4
	b.Cache.TTLStatus = "10s"
	ch := Summarize(a, b)
	if ch.Empty() {
		t.Fatal("expected a change")
	}
	if strings.Join(ch.Sections, ",") != "bluetooth,cache" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(ch.RestartRequired) != 1 || ch.RestartRequired[0] != "bluetooth" {
		t.Fatalf("restart = %v", ch.RestartRequired)
	}
	if !Summarize(a, Defaults()).Empty() {
		t.Fatal("identical configs reported a change")
	}
}
