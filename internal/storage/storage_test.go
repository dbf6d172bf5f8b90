package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "bluecast/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func testDriver(t *testing.T, driver, file string) {
	path := filepath.Join(t.TempDir(), file)
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := Record{
			ID:     fmt.Sprintf("id-%d", i),
			At:     base.Add(time.Duration(i) * time.Second),
			Sender: "AA:BB:CC:DD:EE:FF",
			Kind:   "message",
			Text:   fmt.Sprintf("hello %d", i),
		}
		if err := st.AppendMessage(ctx, r); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "hello 2" || got[1].Text != "hello 1" {
		t.Fatalf("Recent = %+v", got)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and confirm the records survived.
	st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err = st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent after reopen: %v", err)
	}
	if len(got) != 3 || got[0].ID != "id-2" {
		t.Fatalf("Recent after reopen = %+v", got)
	}
}

func TestFileStore(t *testing.T)   { testDriver(t, "file", "history.jsonl") }
func TestSQLiteStore(t *testing.T) { testDriver(t, "sqlite", "history.db") }
