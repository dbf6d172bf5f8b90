package broadcast

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logx "bluecast/pkg/logx"
)

type funcSink struct {
	name string
	fn   func(ctx context.Context, msg Message) error
}

func (s funcSink) Name() string                                { return s.name }
func (s funcSink) Send(ctx context.Context, msg Message) error { return s.fn(ctx, msg) }

type recordingSink struct {
	name string
	mu   sync.Mutex
	msgs []Message
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) got() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func allEnabled(timeout time.Duration) Config {
	return Config{
		Enabled:     []string{"speech", "notification", "console", "log", "history", "a", "b", "slow"},
		SinkTimeout: timeout,
		StopGrace:   50 * time.Millisecond,
	}
}

func TestFailingSpeechDoesNotStopOtherSinks(t *testing.T) {
	dir := t.TempDir()
	lf, err := OpenLogFile(filepath.Join(dir, "messages.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer lf.Close()
	var console bytes.Buffer

	failing := func(context.Context, string, string, ...string) error { return errors.New("no audio device") }
	d := NewDispatcher(allEnabled(time.Second), logx.Nop(),
		NewSpeechSink(SpeechConfig{}, NewVolume(80), failing),
		NewConsoleSink(&console),
		NewLogSink(lf),
	)

	sum := d.Dispatch(context.Background(), Message{Text: "Hello from Android", Sender: "AA:BB:CC:DD:EE:FF"})

	speech, _ := sum.Result("speech")
	if speech.OK || !errors.Is(speech.Err, ErrSinkFailure) || !strings.Contains(speech.Err.Error(), "no audio device") {
		t.Fatalf("speech result = %+v", speech)
	}
	for _, name := range []string{"console", "log"} {
		if r, ok := sum.Result(name); !ok || !r.OK {
			t.Fatalf("%s result = %+v", name, r)
		}
	}
	if sum.Delivered() != 2 || sum.Failed() != 1 {
		t.Fatalf("summary = %s", sum)
	}
	if !strings.Contains(console.String(), "Hello from Android") {
		t.Fatalf("console = %q", console.String())
	}
	if err := lf.Flush(); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(lf.Path())
	if !strings.HasSuffix(strings.TrimRight(string(b), "\n"), "| AA:BB:CC:DD:EE:FF | Hello from Android") {
		t.Fatalf("log = %q", b)
	}
}

func TestPanickingSinkIsIsolated(t *testing.T) {
	rec := &recordingSink{name: "b"}
	d := NewDispatcher(allEnabled(time.Second), logx.Nop(),
		funcSink{name: "a", fn: func(context.Context, Message) error { panic("boom") }},
		rec,
	)
	sum := d.Dispatch(context.Background(), Message{Text: "x"})
	a, _ := sum.Result("a")
	if a.OK || !errors.Is(a.Err, ErrSinkFailure) || !strings.Contains(a.Err.Error(), "panic: boom") {
		t.Fatalf("a = %+v", a)
	}
	if len(rec.got()) != 1 {
		t.Fatal("b did not receive the message")
	}
}

func TestSlowSinkIsReportedPending(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	rec := &recordingSink{name: "a"}
	d := NewDispatcher(allEnabled(50*time.Millisecond), logx.Nop(),
		rec,
		funcSink{name: "slow", fn: func(context.Context, Message) error { <-release; return nil }},
	)
	start := time.Now()
	sum := d.Dispatch(context.Background(), Message{Text: "x"})
	if el := time.Since(start); el > time.Second {
		t.Fatalf("dispatch took %v", el)
	}
	slow, _ := sum.Result("slow")
	if !slow.Pending || slow.OK {
		t.Fatalf("slow = %+v", slow)
	}
	if sum.Pending() != 1 || sum.Delivered() != 1 || sum.Failed() != 0 {
		t.Fatalf("summary = %s", sum)
	}
}

func TestCancelledDispatchWaitsGraceThenAbandons(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	var sawCancel bool
	var mu sync.Mutex
	d := NewDispatcher(allEnabled(10*time.Second), logx.Nop(),
		funcSink{name: "slow", fn: func(ctx context.Context, _ Message) error {
			select {
			case <-release:
			case <-ctx.Done():
				mu.Lock()
				sawCancel = true
				mu.Unlock()
			}
			return nil
		}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	sum := d.Dispatch(ctx, Message{Text: "x"})
	el := time.Since(start)
	if el < 50*time.Millisecond || el > 2*time.Second {
		t.Fatalf("dispatch returned after %v, want about the grace period", el)
	}
	if sum.Pending() != 1 {
		t.Fatalf("summary = %s", sum)
	}
	mu.Lock()
	defer mu.Unlock()
	if sawCancel {
		t.Fatal("sink context was cancelled with the caller")
	}
}

func TestAckEncodedOnceForAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(allEnabled(time.Second), logx.Nop(), a, b)
	at := time.Date(2026, 10, 19, 14, 3, 7, 0, time.Local)
	sum := d.Dispatch(context.Background(), Message{Text: "x", ReceivedAt: at})

	if string(sum.Ack) != "ACK 14:03:07\n" {
		t.Fatalf("ack = %q", sum.Ack)
	}
	ma, mb := a.got()[0], b.got()[0]
	if &ma.Ack[0] != &mb.Ack[0] || &ma.Ack[0] != &sum.Ack[0] {
		t.Fatal("ack re-encoded per sink")
	}
	if ma.ID == "" || ma.ID != sum.ID {
		t.Fatalf("id = %q / %q", ma.ID, sum.ID)
	}
}

func TestOnlyAndApply(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(allEnabled(time.Second), logx.Nop(), a, b)

	sum := d.Dispatch(context.Background(), Message{Text: "status"}, "b", "speech")
	if len(sum.Results) != 1 || sum.Results[0].Sink != "b" || len(a.got()) != 0 {
		t.Fatalf("only b: %s", sum)
	}

	d.Apply(Config{Enabled: []string{" A "}})
	sum = d.Dispatch(context.Background(), Message{Text: "x"})
	if len(sum.Results) != 1 || sum.Results[0].Sink != "a" {
		t.Fatalf("after apply: %s", sum)
	}
	if got := d.Enabled(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Enabled = %v", got)
	}

	d.Apply(Config{})
	if sum := d.Dispatch(context.Background(), Message{Text: "x"}); len(sum.Results) != 0 {
		t.Fatalf("no sinks: %s", sum)
	}
}

func TestDispatchTest(t *testing.T) {
	a := &recordingSink{name: "a"}
	d := NewDispatcher(allEnabled(time.Second), logx.Nop(), a)
	sum := d.Test(context.Background(), "ping", "")
	if sum.Kind != KindTest || sum.Delivered() != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if m := a.got()[0]; m.Sender != "Test Device" || m.Text != "ping" || m.Kind != KindTest {
		t.Fatalf("msg = %+v", m)
	}
}
