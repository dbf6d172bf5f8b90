package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "bluecast/pkg/logx"
)

// Config selects sinks and bounds how long a dispatch waits for them.
type Config struct {
	Enabled []string
	// SinkTimeout is how long Dispatch waits for all sinks. Sinks still
	// running afterwards are reported as pending and left to finish.
	SinkTimeout time.Duration
	// StopGrace is how long Dispatch keeps waiting after its context is
	// cancelled.
	StopGrace time.Duration
}

const (
	defaultSinkTimeout = 35 * time.Second
	defaultStopGrace   = 2 * time.Second
)

// Dispatcher owns the registered sinks. Apply may be called at any time.
type Dispatcher struct {
	log logx.Logger
	now func() time.Time

	mu      sync.RWMutex
	sinks   []Sink
	enabled map[string]bool
	timeout time.Duration
	grace   time.Duration
}

func NewDispatcher(cfg Config, log logx.Logger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		log: log.With(logx.String("comp", "broadcast")),
		now: time.Now,
	}
	for _, s := range sinks {
		d.Register(s)
	}
	d.Apply(cfg)
	return d
}

// Register adds a sink. Sinks run and report in registration order.
// Registering a name twice replaces the earlier sink.
func (d *Dispatcher) Register(s Sink) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.sinks {
		if cur.Name() == s.Name() {
			d.sinks[i] = s
			return
		}
	}
	d.sinks = append(d.sinks, s)
}

func (d *Dispatcher) Apply(cfg Config) {
	enabled := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		enabled[strings.ToLower(strings.TrimSpace(name))] = true
	}
	timeout := cfg.SinkTimeout
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	d.mu.Lock()
	d.enabled = enabled
	d.timeout = timeout
	d.grace = grace
	d.mu.Unlock()
}

// Enabled returns the names of registered and enabled sinks.
func (d *Dispatcher) Enabled() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, s := range d.sinks {
		if d.enabled[s.Name()] {
			out = append(out, s.Name())
		}
	}
	return out
}

func (d *Dispatcher) selectSinks(only []string) ([]Sink, time.Duration, time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var restrict map[string]bool
	if len(only) > 0 {
		restrict = make(map[string]bool, len(only))
		for _, n := range only {
			restrict[n] = true
		}
	}
	out := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		if !d.enabled[s.Name()] {
			continue
		}
		if restrict != nil && !restrict[s.Name()] {
			continue
		}
		out = append(out, s)
	}
	return out, d.timeout, d.grace
}

type indexed struct {
	i   int
	res Result
}

// Dispatch sends msg to every enabled sink, or only to the named ones when
// only is non-empty. It returns when every sink finished, when SinkTimeout
// elapsed, or StopGrace after ctx was cancelled, whichever comes first.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, only ...string) Summary {
	start := d.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = KindMessage
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = start
	}
	msg.Ack = EncodeAck(msg.ReceivedAt)

	sinks, timeout, grace := d.selectSinks(only)
	sum := Summary{ID: msg.ID, Kind: msg.Kind, Ack: msg.Ack, Results: make([]Result, len(sinks))}
	if len(sinks) == 0 {
		d.log.Warn("no sinks enabled", logx.String("id", msg.ID))
		return sum
	}

	// Sinks keep running past a cancelled ctx; they are bounded by the
	// timeout alone and abandoned if they outlive the wait below.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	var wg sync.WaitGroup
	done := make(chan indexed, len(sinks))
	for i, s := range sinks {
		i, s := i, s
		sum.Results[i] = Result{Sink: s.Name(), Pending: true}
		wg.Add(1)
		go func() {
			defer wg.Done()
			done <- indexed{i: i, res: d.runSink(sinkCtx, s, msg)}
		}()
	}
	go func() {
		wg.Wait()
		cancel()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ctxDone := ctx.Done()
	var graceC <-chan time.Time

wait:
	for remaining := len(sinks); remaining > 0; {
		select {
		case r := <-done:
			sum.Results[r.i] = r.res
			remaining--
		case <-timer.C:
			break wait
		case <-ctxDone:
			ctxDone = nil
			graceC = time.After(grace)
		case <-graceC:
			break wait
		}
	}

	sum.Duration = d.now().Sub(start)
	d.logSummary(msg, sum)
	return sum
}

func (d *Dispatcher) runSink(ctx context.Context, s Sink, msg Message) (res Result) {
	start := time.Now()
	res.Sink = s.Name()
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("sink panicked", logx.String("sink", res.Sink), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			res = Result{Sink: s.Name(), Err: fmt.Errorf("%w: %s: panic: %v", ErrSinkFailure, s.Name(), p)}
		}
		res.Duration = time.Since(start)
	}()
	if err := s.Send(ctx, msg); err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrSinkFailure, s.Name(), err)
		return res
	}
	res.OK = true
	return res
}

func (d *Dispatcher) logSummary(msg Message, sum Summary) {
	for _, r := range sum.Results {
		switch {
		case r.Pending:
			d.log.Warn("sink still running; abandoned", logx.String("id", sum.ID), logx.String("sink", r.Sink))
		case !r.OK:
			d.log.Warn("sink failed", logx.String("id", sum.ID), logx.String("sink", r.Sink), logx.Err(r.Err))
		}
	}
	fields := []logx.Field{
		logx.String("id", sum.ID),
		logx.String("kind", sum.Kind),
		logx.String("sender", msg.Sender),
		logx.Int("delivered", sum.Delivered()),
		logx.Int("failed", sum.Failed()),
		logx.Int("pending", sum.Pending()),
		logx.Duration("dur", sum.Duration),
	}
	if sum.Delivered() == len(sum.Results) {
		d.log.Info("broadcast dispatched", fields...)
	} else {
		d.log.Warn("broadcast dispatched with failures", fields...)
	}
}

// Test sends one synthetic message through every enabled sink.
func (d *Dispatcher) Test(ctx context.Context, text, sender string) Summary {
	if sender == "" {
		sender = "Test Device"
	}
	return d.Dispatch(ctx, Message{Kind: KindTest, Text: text, Sender: sender})
}
