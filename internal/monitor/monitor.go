// Package monitor logs a periodic status line on a cron schedule.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "bluecast/pkg/logx"
)

// Sample is one status check.
type Sample struct {
	At time.Time

	// Adapter is nil when availability could not be determined.
	Adapter   *bool
	Paired    int
	Link      string
	Peer      string
	Host      HostInfo
	HostErr   error
	Goroutine int
	HeapAlloc uint64
}

// Fields renders s for the structured log.
func (s Sample) Fields() []logx.Field {
	adapter := "unknown"
	if s.Adapter != nil {
		adapter = map[bool]string{true: "available", false: "unavailable"}[*s.Adapter]
	}
	fields := []logx.Field{
		logx.String("adapter", adapter),
		logx.Int("paired_devices", s.Paired),
		logx.String("link", s.Link),
		logx.Int("goroutines", s.Goroutine),
		logx.Uint64("heap_alloc", s.HeapAlloc),
	}
	if s.Peer != "" {
		fields = append(fields, logx.String("peer", s.Peer))
	}
	if s.HostErr != nil {
		return append(fields, logx.String("host", "unknown"), logx.Err(s.HostErr))
	}
	return append(fields,
		logx.Duration("uptime", s.Host.Uptime),
		logx.String("memory_usage", fmt.Sprintf("%.1f%%", s.Host.MemUsedPercent())),
	)
}

// Collector fills in the application part of a sample: adapter, paired
// devices and link state.
type Collector func(ctx context.Context, s *Sample)

type Config struct {
	Enabled  bool
	Schedule string
	// ProcRoot defaults to "/proc".
	ProcRoot string
	// Timeout bounds one check.
	Timeout time.Duration
}

// SecondOptional accepts both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule spec.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	return parser.Parse(spec)
}

type Monitor struct {
	collect Collector
	log     logx.Logger

	mu   sync.Mutex
	cfg  Config
	c    *cron.Cron
	ctx  context.Context
	last Sample
}

func New(cfg Config, collect Collector, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{cfg: cfg, collect: collect, log: log.With(logx.String("comp", "monitor"))}
}

// Check takes one sample and logs it.
func (m *Monitor) Check(ctx context.Context) Sample {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	root := cfg.ProcRoot
	if root == "" {
		root = "/proc"
	}

	s := Sample{At: time.Now(), Goroutine: runtime.NumGoroutine()}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapAlloc = ms.HeapAlloc
	s.Host, s.HostErr = ReadHost(root)
	if m.collect != nil {
		m.collect(ctx, &s)
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	m.log.Info("status check", s.Fields()...)
	return s
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start schedules checks until Stop. It is a no-op when disabled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	return m.startLocked()
}

func (m *Monitor) startLocked() error {
	if m.c != nil || !m.cfg.Enabled || m.ctx == nil {
		return nil
	}
	sched, err := ParseSchedule(m.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("monitor.schedule: %w", err)
	}
	ctx := m.ctx
	m.c = cron.New(cron.WithParser(parser))
	m.c.Schedule(sched, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		m.Check(ctx)
	}))
	m.c.Start()
	m.log.Info("monitor started", logx.String("schedule", m.cfg.Schedule))
	return nil
}

// Stop halts scheduling and waits for a running check, bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	stopCron(ctx, c)
}

func stopCron(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply reschedules when the schedule or the enabled flag changed.
func (m *Monitor) Apply(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	if prev.Enabled == cfg.Enabled && prev.Schedule == cfg.Schedule {
		m.mu.Unlock()
		return nil
	}
	old := m.c
	m.c = nil
	m.mu.Unlock()

	stopCron(ctx, old)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !cfg.Enabled {
		if old != nil {
			m.log.Info("monitor disabled")
		}
		return nil
	}
	return m.startLocked()
}

// Running reports whether checks are scheduled.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c != nil
}
