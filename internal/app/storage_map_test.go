package app

import (
	"testing"
	"time"

	"bluecast/internal/config"
)

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Defaults()
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("history off by default: enabled=%v err=%v", enabled, err)
	}

	cfg.Broadcast.SinksEnabled = append(cfg.Broadcast.SinksEnabled, config.SinkHistory)
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("enabled=%v err=%v", enabled, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("config = %+v", sc)
	}

	cfg.Broadcast.History = config.HistoryConfig{Driver: "file"}
	if sc, _, _ = mapStorageConfig(cfg); sc.Path != "./logs/history.jsonl" {
		t.Fatalf("file path default = %q", sc.Path)
	}

	cfg.Broadcast.History = config.HistoryConfig{Driver: "sqlite"}
	if _, _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("sqlite without a path accepted")
	}
}

func TestCheckConfig(t *testing.T) {
	if err := CheckConfig(config.Defaults()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	cfg := config.Defaults()
	cfg.Link.BackoffSteps = []string{"soon"}
	if err := CheckConfig(cfg); err == nil {
		t.Fatal("bad backoff step accepted")
	}

	cfg = config.Defaults()
	cfg.Monitor.Schedule = "every five minutes"
	if err := CheckConfig(cfg); err == nil {
		t.Fatal("bad schedule accepted")
	}

	cfg.Monitor.Enabled = false
	if err := CheckConfig(cfg); err != nil {
		t.Fatalf("disabled monitor schedule checked: %v", err)
	}
}

func TestMapReceiverAndLink(t *testing.T) {
	cfg := config.Defaults()
	cfg.Broadcast.StatusToSpeech = true
	rc := mapReceiverConfig(cfg)
	if rc.MaxMessageChars != 1000 || !rc.Ack || !rc.StatusToSpeech {
		t.Fatalf("receiver config = %+v", rc)
	}
	lc, err := mapLinkConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if lc.Channel != 1 || len(lc.Backoff) != 5 || lc.Backoff[4] != time.Minute {
		t.Fatalf("link config = %+v", lc)
	}
}
