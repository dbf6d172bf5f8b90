package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"

	"bluecast/internal/message"
)

var ErrRateLimited = errors.New("rate limited")

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string, timeout time.Duration) error
}

const (
	notifyDest  = "org.freedesktop.Notifications"
	notifyPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyCall  = "org.freedesktop.Notifications.Notify"
	notifyIcon  = "bluetooth"
	notifyAppID = "bluecast"
)

// DBusNotifier calls org.freedesktop.Notifications on the session bus. The
// connection is opened lazily and reopened after a failed call.
type DBusNotifier struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func (n *DBusNotifier) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if n.conn != nil && n.conn.Connected() {
		return n.conn, nil
	}
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("no desktop session: %w", err)
	}
	n.conn = conn
	return conn, nil
}

func (n *DBusNotifier) Notify(ctx context.Context, title, body string, timeout time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	conn, err := n.connLocked(ctx)
	if err != nil {
		return err
	}
	call := conn.Object(notifyDest, notifyPath).CallWithContext(ctx, notifyCall, 0,
		notifyAppID, uint32(0), notifyIcon, title, body,
		[]string{}, map[string]dbus.Variant{}, int32(timeout.Milliseconds()))
	if call.Err != nil {
		_ = conn.Close()
		n.conn = nil
		return call.Err
	}
	return nil
}

func (n *DBusNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

type NotificationConfig struct {
	Title      string
	Timeout    time.Duration
	MaxChars   int
	RatePerSec int // 0 disables limiting
}

// NotificationSink shows each message as a desktop notification.
type NotificationSink struct {
	n   Notifier
	cfg NotificationConfig

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewNotificationSink(cfg NotificationConfig, n Notifier) *NotificationSink {
	if n == nil {
		n = &DBusNotifier{}
	}
	s := &NotificationSink{n: n}
	s.Apply(cfg)
	return s
}

func (s *NotificationSink) Name() string { return "notification" }

// Apply swaps the config and rebuilds the limiter.
func (s *NotificationSink) Apply(cfg NotificationConfig) {
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Bluetooth Message"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = lim
	s.mu.Unlock()
}

func (s *NotificationSink) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	if lim != nil && !lim.Allow() {
		return ErrRateLimited
	}
	title := cfg.Title
	if msg.Sender != "" {
		title += " from " + msg.Sender
	}
	body := message.Truncate(msg.Text, cfg.MaxChars, "...")
	return s.n.Notify(ctx, title, body, cfg.Timeout)
}
