package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bluecast/internal/bluez"
	"bluecast/internal/broadcast"
	"bluecast/internal/command"
	"bluecast/internal/config"
	"bluecast/internal/eventbus"
	"bluecast/internal/link"
	"bluecast/internal/monitor"
	"bluecast/internal/receiver"
	"bluecast/internal/runtime/supervisor"
	"bluecast/internal/status"
	"bluecast/internal/statuscache"
	"bluecast/internal/storage"
	logx "bluecast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	deps deps

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	client  *bluez.Client
	querier bluez.Querier
	store   storage.Store
	msgLog  *broadcast.LogFile
	sysLog  *broadcast.LogFile
	events  *eventLog

	stopEvents func()
	eventsDone chan struct{}

	cache    *statuscache.Cache
	reporter *status.Reporter
	volume   *broadcast.Volume
	speech   *broadcast.SpeechSink
	notif    *broadcast.NotificationSink
	notifier broadcast.Notifier
	disp     *broadcast.Dispatcher
	pipe     *receiver.Pipeline
	link     *link.Manager
	monitor  *monitor.Monitor
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	d := defaultDeps()
	for _, opt := range opts {
		opt(&d)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := CheckConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	a := &App{
		cfgm: cfgm,
		deps: d,
		log:  root.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	built := false
	defer func() {
		if !built {
			_ = a.closeResources()
			_ = logSvc.Close()
		}
	}()

	// Bluetooth queries degrade to "unavailable" on hosts without BlueZ.
	a.querier = d.querier
	if a.querier == nil {
		dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		q, client, err := bluez.Open(dialCtx, cfg.Bluetooth.Adapter)
		cancel()
		if err != nil {
			a.log.Warn("bluez unavailable; status will report it", logx.String("adapter", cfg.Bluetooth.Adapter), logx.Err(err))
		}
		a.querier, a.client = q, client
	}
	ttls, err := config.ParseCacheTTLs(cfg)
	if err != nil {
		return nil, err
	}
	a.cache = statuscache.New(nil)
	a.reporter = status.NewReporter(a.cache, a.querier, ttls, root)

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("history enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if config.SinkEnabled(cfg, config.SinkLog) {
		if a.msgLog, err = broadcast.OpenLogFile(cfg.Broadcast.LogPath); err != nil {
			return nil, err
		}
	}
	if a.sysLog, err = broadcast.OpenLogFile(config.SystemLogPath(cfg)); err != nil {
		return nil, err
	}

	a.volume = broadcast.NewVolume(cfg.Broadcast.DefaultVolume)
	console := broadcast.NewConsoleSink(d.console)
	a.speech = broadcast.NewSpeechSink(mapSpeechConfig(cfg), a.volume, d.speech)
	ncfg, err := mapNotificationConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notifier = d.notifier
	if a.notifier == nil {
		a.notifier = &broadcast.DBusNotifier{}
	}
	a.notif = broadcast.NewNotificationSink(ncfg, a.notifier)

	sinks := []broadcast.Sink{a.speech, a.notif, console}
	if a.msgLog != nil {
		sinks = append(sinks, broadcast.NewLogSink(a.msgLog))
	}
	if a.store != nil {
		sinks = append(sinks, broadcast.NewHistorySink(a.store))
	}
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.disp = broadcast.NewDispatcher(dcfg, root, sinks...)

	a.events = &eventLog{console: console, file: a.sysLog, log: root.With(logx.String("comp", "events"))}
	a.events.showConsole.Store(config.SinkEnabled(cfg, config.SinkConsole))

	router := command.NewRouter(a.reporter, a.volume)
	a.pipe = receiver.New(mapReceiverConfig(cfg), router, a.disp, root)

	lcfg, err := mapLinkConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.link = link.NewManager(lcfg, d.listen, a.pipe, link.WithLogger(root), link.WithBus(a.bus))
	a.monitor = monitor.New(a.monitorConfig(cfg, ttls), a.collect, root)

	built = true
	return a, nil
}

func (a *App) monitorConfig(cfg *config.Config, ttls config.CacheTTLs) monitor.Config {
	mc := mapMonitorConfig(cfg, ttls.QueryTimeout)
	mc.ProcRoot = a.deps.procRoot
	return mc
}

// collect adds adapter and link state to a monitor sample.
func (a *App) collect(ctx context.Context, s *monitor.Sample) {
	snap := a.reporter.Snapshot(ctx)
	s.Adapter = snap.Available
	s.Paired = len(snap.Paired)
	s.Link = a.link.State().String()
	if sess, ok := a.link.Session(); ok {
		s.Peer = sess.Peer
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Link() *link.Manager { return a.link }

func (a *App) Dispatcher() *broadcast.Dispatcher { return a.disp }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return CheckConfig(cfg) })

	cfg := a.cfgm.Get()
	if a.client != nil {
		a.prepareAdapter(runCtx, cfg)
	}

	// The echo outlives the supervisor so events published while the
	// link unwinds still reach the system log.
	events, unsub := a.bus.Subscribe(128)
	a.stopEvents = unsub
	a.eventsDone = make(chan struct{})
	go func() {
		defer close(a.eventsDone)
		a.events.run(events)
	}()
	if a.msgLog != nil {
		a.sup.Go("messages.flush", a.msgLog.Run)
	}
	a.sup.Go("system.flush", a.sysLog.Run)

	a.bus.Publish(eventbus.Event{Type: eventbus.ServiceStarted, Data: eventbus.Details{
		Channel: cfg.Bluetooth.Channel,
		Message: fmt.Sprintf("Bluetooth receiver started on channel %d", cfg.Bluetooth.Channel),
	}})

	if a.deps.selfTest {
		a.SelfTest(runCtx)
	}

	a.sup.GoRestart("link", a.link.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if err := a.monitor.Start(runCtx); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady, fmt.Sprintf("STATUS=listening on RFCOMM channel %d", cfg.Bluetooth.Channel))
	a.log.Info("app started",
		logx.Int("channel", cfg.Bluetooth.Channel),
		logx.Strings("sinks", a.disp.Enabled()),
	)
	return nil
}

// prepareAdapter checks bluetoothd and makes the adapter discoverable.
// Failures are logged; the link manager retries on its own.
func (a *App) prepareAdapter(ctx context.Context, cfg *config.Config) {
	c, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if state, err := bluez.UnitState(c, bluez.ServiceUnit); err != nil {
		a.log.Debug("bluetooth unit state unknown", logx.Err(err))
	} else if state != "active" {
		a.log.Warn("bluetooth service is not active", logx.String("unit", bluez.ServiceUnit), logx.String("state", state))
	}

	if !cfg.Bluetooth.Discoverable {
		return
	}
	if err := a.client.MakeDiscoverable(c, cfg.Bluetooth.Alias); err != nil {
		a.log.Warn("could not make adapter discoverable", logx.String("adapter", a.client.Adapter()), logx.Err(err))
		return
	}
	a.log.Info("adapter discoverable", logx.String("adapter", a.client.Adapter()), logx.String("alias", cfg.Bluetooth.Alias))
}

// SelfTest sends the synthetic test message through every enabled sink.
func (a *App) SelfTest(ctx context.Context) broadcast.Summary {
	sum := a.disp.Test(ctx, command.TestMessage, "Self Test")
	fields := []logx.Field{logx.String("summary", sum.String())}
	if sum.Failed() > 0 || sum.Pending() > 0 {
		a.log.Warn("self-test finished with failures", fields...)
	} else {
		a.log.Info("self-test passed", fields...)
	}
	return sum
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	ch := config.Summarize(prev, cfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)

	a.logs.Apply(mapLoggingConfig(cfg))

	if dc, err := mapDispatcherConfig(cfg); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}
	a.speech.Apply(mapSpeechConfig(cfg))
	if nc, err := mapNotificationConfig(cfg); err != nil {
		a.log.Warn("invalid notification config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}
	if prev == nil || prev.Broadcast.DefaultVolume != cfg.Broadcast.DefaultVolume {
		a.volume.SetVolume(cfg.Broadcast.DefaultVolume)
	}
	a.events.showConsole.Store(config.SinkEnabled(cfg, config.SinkConsole))
	a.pipe.Apply(mapReceiverConfig(cfg))

	ttls, err := config.ParseCacheTTLs(cfg)
	if err != nil {
		a.log.Warn("invalid cache config; keeping previous", logx.Err(err))
	} else {
		a.reporter.SetTTLs(ttls)
		if err := a.monitor.Apply(ctx, a.monitorConfig(cfg, ttls)); err != nil {
			a.log.Warn("monitor not rescheduled", logx.Err(err))
		}
	}

	if lc, err := mapLinkConfig(cfg); err != nil {
		a.log.Warn("invalid link config; keeping previous", logx.Err(err))
	} else {
		a.link.Apply(lc)
	}

	// Sinks that were off at startup have no open file to write to.
	active := map[string]bool{}
	for _, name := range a.disp.Enabled() {
		active[name] = true
	}
	var unopened []string
	for name := range config.EnabledSinks(cfg) {
		if !active[name] {
			unopened = append(unopened, name)
		}
	}
	if len(unopened) > 0 {
		a.log.Warn("sinks enabled but not opened; restart required", logx.Strings("sinks", unopened))
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", ch.RestartRequired))
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)
}

// watchdog pings the service manager at half the configured interval.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Debug("watchdog config unreadable", logx.Err(err))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) sdNotify(states ...string) {
	if a.deps.notify == nil {
		return
	}
	sent, err := a.deps.notify(strings.Join(states, "\n"))
	if err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.Strings("state", states))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeResources()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				max = min(max, time.Until(dl))
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("monitor", 2*time.Second, func(c context.Context) error { a.monitor.Stop(c); return nil })
	// Link, flush loops and config watch all run under the supervisor.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("events", time.Second, func(c context.Context) error {
		a.stopEvents()
		select {
		case <-a.eventsDone:
		case <-c.Done():
			return c.Err()
		}
		a.events.handle(eventbus.Event{
			Type: eventbus.ServiceStopped,
			Time: time.Now(),
			Data: eventbus.Details{Message: "Bluetooth receiver stopped"},
		})
		return nil
	})
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeResources releases files, the history store and bus connections.
// It is safe to call more than once.
func (a *App) closeResources() error {
	var errs []error
	if a.msgLog != nil {
		errs = append(errs, a.msgLog.Close())
		a.msgLog = nil
	}
	if a.sysLog != nil {
		errs = append(errs, a.sysLog.Close())
		a.sysLog = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if c, ok := a.notifier.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	return errors.Join(errs...)
}
