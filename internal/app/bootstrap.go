package app

import (
	"io"

	"github.com/coreos/go-systemd/v22/daemon"

	"bluecast/internal/bluez"
	"bluecast/internal/broadcast"
	"bluecast/internal/link"
	logx "bluecast/pkg/logx"
)

// Option replaces a host-facing dependency. Production code uses none;
// tests swap in fakes for the radio, the speech binary and the desktop.
type Option func(*deps)

type deps struct {
	listen   link.ListenFunc
	querier  bluez.Querier
	speech   broadcast.Runner
	notifier broadcast.Notifier
	console  io.Writer
	notify   func(state string) (bool, error)
	procRoot string
	selfTest bool
}

func defaultDeps() deps {
	return deps{
		listen:  link.ListenRFCOMM,
		speech:  broadcast.ExecRunner,
		console: logx.Stdout(),
		notify:  func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func WithListener(fn link.ListenFunc) Option { return func(d *deps) { d.listen = fn } }

// WithQuerier skips dialing BlueZ.
func WithQuerier(q bluez.Querier) Option { return func(d *deps) { d.querier = q } }

func WithSpeechRunner(run broadcast.Runner) Option { return func(d *deps) { d.speech = run } }

func WithNotifier(n broadcast.Notifier) Option { return func(d *deps) { d.notifier = n } }

func WithConsole(w io.Writer) Option { return func(d *deps) { d.console = w } }

// WithSdNotify replaces the service manager notification call.
func WithSdNotify(fn func(state string) (bool, error)) Option {
	return func(d *deps) { d.notify = fn }
}

func WithProcRoot(dir string) Option { return func(d *deps) { d.procRoot = dir } }

// WithSelfTest runs one "!test" dispatch before the link starts listening.
func WithSelfTest(enabled bool) Option { return func(d *deps) { d.selfTest = enabled } }
