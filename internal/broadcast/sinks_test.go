package broadcast

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bluecast/internal/storage"
	logx "bluecast/pkg/logx"
)

type capturedRun struct {
	stdin string
	name  string
	args  []string
}

func TestSpeechSinkUsesVolumeAndTruncates(t *testing.T) {
	var got capturedRun
	run := func(_ context.Context, stdin, name string, args ...string) error {
		got = capturedRun{stdin: stdin, name: name, args: args}
		return nil
	}
	vol := NewVolume(80)
	s := NewSpeechSink(SpeechConfig{Rate: 150, MaxChars: 10, Voice: "en"}, vol, run)

	vol.SetVolume(50)
	if err := s.Send(context.Background(), Message{Text: "0123456789abcdef"}); err != nil {
		t.Fatal(err)
	}
	if got.name != "espeak" {
		t.Fatalf("name = %q", got.name)
	}
	want := "-s 150 -a 100 -v en --stdin"
	if strings.Join(got.args, " ") != want {
		t.Fatalf("args = %v, want %s", got.args, want)
	}
	if got.stdin != "0123456789"+SpeechTruncated {
		t.Fatalf("stdin = %q", got.stdin)
	}
}

func TestVolumeClamps(t *testing.T) {
	v := NewVolume(250)
	if v.Get() != 100 {
		t.Fatalf("Get = %d", v.Get())
	}
	v.SetVolume(-1)
	if v.Get() != 0 {
		t.Fatalf("Get = %d", v.Get())
	}
}

type fakeNotifier struct {
	title, body string
	timeout     time.Duration
	err         error
	calls       int
}

func (f *fakeNotifier) Notify(_ context.Context, title, body string, timeout time.Duration) error {
	f.calls++
	f.title, f.body, f.timeout = title, body, timeout
	return f.err
}

func TestNotificationSink(t *testing.T) {
	fn := &fakeNotifier{}
	s := NewNotificationSink(NotificationConfig{MaxChars: 5, RatePerSec: 1}, fn)

	if err := s.Send(context.Background(), Message{Text: "abcdefgh", Sender: "AA:BB"}); err != nil {
		t.Fatal(err)
	}
	if fn.title != "Bluetooth Message from AA:BB" || fn.body != "abcde..." || fn.timeout != 5*time.Second {
		t.Fatalf("notify = %+v", fn)
	}
	if err := s.Send(context.Background(), Message{Text: "again"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second send err = %v, want ErrRateLimited", err)
	}
	if fn.calls != 1 {
		t.Fatalf("calls = %d", fn.calls)
	}

	s.Apply(NotificationConfig{Title: "Msg"})
	fn.err = errors.New("no session")
	if err := s.Send(context.Background(), Message{Text: "x"}); err == nil || fn.title != "Msg" {
		t.Fatalf("err = %v title = %q", err, fn.title)
	}
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	if err := s.Send(context.Background(), Message{Kind: KindStatus, Text: "Bluetooth: available", Sender: "AA:BB", ReceivedAt: at}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"STATUS", "2026-10-19 09:30:00", "AA:BB", "Bluetooth: available"} {
		if !strings.Contains(out, want) {
			t.Fatalf("console output missing %q:\n%s", want, out)
		}
	}
	buf.Reset()
	if err := s.PrintEvent(at, "CONNECTION_ESTABLISHED", "Connected to AA:BB"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "[09:30:00] ") || !strings.Contains(buf.String(), "System Event: CONNECTION_ESTABLISHED - Connected to AA:BB") {
		t.Fatalf("event = %q", buf.String())
	}
}

func TestLogFileBuffersUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "messages.log")
	lf, err := OpenLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	if err := NewLogSink(lf).Send(context.Background(), Message{Text: "line one\nline two", Sender: "AA:BB", ReceivedAt: at}); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(path); len(b) != 0 {
		t.Fatalf("written before flush: %q", b)
	}
	if err := lf.Close(); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "2026-10-19T09:30:00Z | AA:BB | line one line two\n" {
		t.Fatalf("log = %q", b)
	}
	if err := lf.WriteLine("late"); !errors.Is(err, ErrLogClosed) {
		t.Fatalf("write after close = %v", err)
	}
}

func TestLogFileRunFlushesOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.log")
	lf, err := OpenLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lf.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lf.Run(ctx) }()
	_ = lf.WriteLine("event")
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(path); string(b) != "event\n" {
		t.Fatalf("log = %q", b)
	}
}

func TestHistorySink(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	d := NewDispatcher(Config{Enabled: []string{"history"}}, logx.Nop(), NewHistorySink(st))
	sum := d.Dispatch(context.Background(), Message{Text: "keep me", Sender: "AA:BB"})
	if sum.Delivered() != 1 {
		t.Fatalf("summary = %s", sum)
	}
	recs, err := st.Recent(context.Background(), 1)
	if err != nil || len(recs) != 1 || recs[0].ID != sum.ID || recs[0].Text != "keep me" {
		t.Fatalf("recent = %+v, %v", recs, err)
	}
}
