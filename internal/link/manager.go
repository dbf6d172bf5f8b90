package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bluecast/internal/clock"
	"bluecast/internal/eventbus"
	"bluecast/internal/message"
	logx "bluecast/pkg/logx"
)

// Handler processes one frame and returns the bytes to write back to the
// peer, or nil. Frames of one link are handled sequentially.
type Handler interface {
	HandleFrame(ctx context.Context, in message.Incoming) []byte
}

type HandlerFunc func(ctx context.Context, in message.Incoming) []byte

func (f HandlerFunc) HandleFrame(ctx context.Context, in message.Incoming) []byte { return f(ctx, in) }

// Config is the live-tunable part of the manager. Channel is read when a
// listener is opened.
type Config struct {
	Channel        int
	Backoff        []time.Duration
	MaxFrameBytes  int
	FramesPerSec   int // 0 disables throttling
	AllowedDevices []string
}

const (
	defaultMaxFrameBytes = 1024
	// handoffPoll is how often a waiting accepted link rechecks the state.
	handoffPoll = 50 * time.Millisecond
)

// SessionStats describes the current or last connection.
type SessionStats struct {
	Peer        string
	ConnectedAt time.Time
	Frames      uint64
	Bytes       uint64
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }
func WithBus(bus eventbus.Bus) Option  { return func(m *Manager) { m.bus = bus } }
func WithClock(c clock.Clock) Option   { return func(m *Manager) { m.clock = c } }

// WithStateObserver is called on every state transition from the manager's
// own goroutine. It must not block.
func WithStateObserver(fn func(State)) Option { return func(m *Manager) { m.observe = fn } }

// Manager owns the listening endpoint and the single active link.
type Manager struct {
	listen  ListenFunc
	handler Handler
	log     logx.Logger
	bus     eventbus.Bus
	clock   clock.Clock
	observe func(State)

	state atomic.Int32

	mu       sync.Mutex
	cfg      Config
	backoff  *BackoffSchedule
	limiter  *rate.Limiter
	allowed  map[string]bool
	session  SessionStats
	frames   atomic.Uint64
	bytes    atomic.Uint64
	rejected atomic.Uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, listen ListenFunc, h Handler, opts ...Option) *Manager {
	m := &Manager{
		listen:  listen,
		handler: h,
		clock:   clock.Real(),
		backoff: NewBackoff(cfg.Backoff),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logx.String("comp", "link"))
	m.Apply(cfg)
	return m
}

// Apply updates backoff, throttling, frame size and the allow list. A new
// channel takes effect the next time the listener is opened.
func (m *Manager) Apply(cfg Config) {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	var lim *rate.Limiter
	if cfg.FramesPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.FramesPerSec), cfg.FramesPerSec)
	}
	var allowed map[string]bool
	if len(cfg.AllowedDevices) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedDevices))
		for _, a := range cfg.AllowedDevices {
			allowed[NormalizeAddr(a)] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.backoff.SetSteps(cfg.Backoff)
	m.limiter = lim
	m.allowed = allowed
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Session returns the stats of the current connection; ok is false when no
// peer is connected.
func (m *Manager) Session() (SessionStats, bool) {
	if m.State() != Connected {
		return SessionStats{}, false
	}
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	s.Frames = m.frames.Load()
	s.Bytes = m.bytes.Load()
	return s, true
}

// Rejected counts links refused for being busy or not allowed.
func (m *Manager) Rejected() uint64 { return m.rejected.Load() }

// Start runs the manager in the background until Stop or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil {
		return errors.New("link manager already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		defer close(done)
		_ = m.Run(runCtx)
	}()
	return nil
}

// Stop interrupts accept, read and backoff waits and blocks until the
// endpoint is closed or ctx ends.
func (m *Manager) Stop(ctx context.Context) error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives listen, accept, read and backoff until ctx is cancelled.
// Link failures never end it.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Disconnected)
	for ctx.Err() == nil {
		m.setState(Listening)
		ch := m.channel()
		ln, err := m.listen(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.linkFailed(ctx, fmt.Errorf("open listener on channel %d: %w", ch, err))
			continue
		}
		m.log.Info("listening", logx.Int("channel", ch))
		m.serve(ctx, ln, ch)
	}
	return nil
}

func (m *Manager) channel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Channel
}

// serve accepts links on ln until ctx ends or the listener fails. It
// always closes ln.
func (m *Manager) serve(ctx context.Context, ln Listener, ch int) {
	acceptCtx, stopAccept := context.WithCancel(ctx)
	conns := make(chan Conn)
	acceptErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.acceptLoop(acceptCtx, ln, conns, acceptErr)
	}()
	defer func() {
		stopAccept()
		wg.Wait()
		if err := ln.Close(); err != nil {
			m.log.Debug("listener close", logx.Err(err))
		}
	}()

	for {
		m.setState(Listening)
		m.publish(eventbus.WaitingConnection, eventbus.Details{Channel: ch, Message: "Waiting for connection"})
		select {
		case <-ctx.Done():
			return
		case err := <-acceptErr:
			m.linkFailed(ctx, err)
			return
		case c := <-conns:
			m.handle(ctx, c, ch)
			if ctx.Err() != nil {
				return
			}
			m.setState(Backoff)
			if !m.sleep(ctx, m.nextBackoff()) {
				return
			}
		}
	}
}

func (m *Manager) acceptLoop(ctx context.Context, ln Listener, conns chan<- Conn, errc chan<- error) {
	for {
		c, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				errc <- err
			}
			return
		}
		peer := NormalizeAddr(c.RemoteAddr())
		if !m.isAllowed(peer) {
			m.reject(c, fmt.Errorf("%w: %s", ErrNotAllowed, peer))
			continue
		}
		if !m.handOff(ctx, c, conns) {
			_ = c.Close()
			return
		}
	}
}

// handOff passes c to the serving loop unless a peer is already connected.
// It reports false when ctx ended first.
func (m *Manager) handOff(ctx context.Context, c Conn, conns chan<- Conn) bool {
	t := time.NewTicker(handoffPoll)
	defer t.Stop()
	for {
		if m.State() == Connected {
			m.reject(c, fmt.Errorf("%w: rejected %s", ErrConnectionBusy, c.RemoteAddr()))
			return true
		}
		select {
		case conns <- c:
			return true
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

func (m *Manager) reject(c Conn, err error) {
	m.rejected.Add(1)
	peer := c.RemoteAddr()
	_ = c.Close()
	m.log.Warn("connection rejected", logx.String("peer", peer), logx.Err(err))
	m.publish(eventbus.ConnectionRejected, eventbus.Details{Peer: peer, Message: err.Error()})
}

func (m *Manager) isAllowed(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed == nil || m.allowed[peer]
}

// handle runs one connected session and reports its end.
func (m *Manager) handle(ctx context.Context, c Conn, ch int) {
	peer := c.RemoteAddr()
	at := m.clock.Now()

	m.mu.Lock()
	m.backoff.Reset()
	m.session = SessionStats{Peer: peer, ConnectedAt: at}
	m.mu.Unlock()
	m.frames.Store(0)
	m.bytes.Store(0)
	m.setState(Connected)

	m.log.Info("connection established", logx.String("peer", peer), logx.Int("channel", ch))
	m.publish(eventbus.ConnectionEstablished, eventbus.Details{Peer: peer, Channel: ch, Message: "Connected to " + peer})

	err := m.readLoop(ctx, c, peer)

	d := eventbus.Details{
		Peer:     peer,
		Channel:  ch,
		Frames:   m.frames.Load(),
		Bytes:    m.bytes.Load(),
		Duration: m.clock.Now().Sub(at),
	}
	d.Message = fmt.Sprintf("Disconnected from %s (%d messages)", peer, d.Frames)
	fields := []logx.Field{
		logx.String("peer", peer),
		logx.Time("connected_at", at),
		logx.Uint64("frames", d.Frames),
		logx.Uint64("bytes", d.Bytes),
		logx.Duration("dur", d.Duration),
	}
	switch {
	case ctx.Err() != nil:
		m.log.Info("connection closed on stop", fields...)
	case errors.Is(err, ErrFrameTooLong):
		m.log.Warn("connection dropped", append(fields, logx.Err(err))...)
	default:
		m.log.Info("connection closed", append(fields, logx.Err(err))...)
	}
	m.publish(eventbus.ConnectionClosed, d)
}

// readLoop reads newline-terminated frames until the link ends. It
// returns an error wrapping ErrLink describing why.
func (m *Manager) readLoop(ctx context.Context, c Conn, peer string) error {
	defer c.Close()
	// Closing the link is the only way to unblock a pending Read.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	m.mu.Lock()
	maxFrame := m.cfg.MaxFrameBytes
	m.mu.Unlock()

	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, min(4096, maxFrame+1)), maxFrame+1)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) > maxFrame {
			return fmt.Errorf("%w: %w: %d bytes", ErrLink, ErrFrameTooLong, len(raw))
		}
		if err := m.throttle(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrLink, err)
		}
		m.frames.Add(1)
		m.bytes.Add(uint64(len(raw)))

		in := message.New(raw, peer, m.clock.Now())
		reply := m.handler.HandleFrame(ctx, in)
		if len(reply) == 0 {
			continue
		}
		if _, err := c.Write(reply); err != nil {
			return fmt.Errorf("%w: write reply: %w", ErrLink, err)
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%w: %w: over %d bytes", ErrLink, ErrFrameTooLong, maxFrame)
		}
		return fmt.Errorf("%w: read: %w", ErrLink, err)
	}
	return fmt.Errorf("%w: peer disconnected", ErrLink)
}

func (m *Manager) throttle(ctx context.Context) error {
	m.mu.Lock()
	lim := m.limiter
	m.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (m *Manager) nextBackoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Next()
}

// linkFailed logs err and sleeps the next backoff step.
func (m *Manager) linkFailed(ctx context.Context, err error) {
	if !errors.Is(err, ErrLink) {
		err = fmt.Errorf("%w: %w", ErrLink, err)
	}
	wait := m.nextBackoff()
	m.setState(Backoff)
	m.log.Warn("link failure", logx.Err(err), logx.Duration("retry_in", wait))
	m.publish(eventbus.LinkError, eventbus.Details{Message: err.Error()})
	m.sleep(ctx, wait)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	m.log.Debug("backoff", logx.Duration("wait", d))
	select {
	case <-ctx.Done():
		return false
	case <-m.clock.After(d):
		return true
	}
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	if m.observe != nil {
		m.observe(s)
	}
}

func (m *Manager) publish(typ string, d eventbus.Details) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.clock.Now(), Data: d})
}
