package app

import (
	"fmt"
	"sync/atomic"

	"bluecast/internal/broadcast"
	"bluecast/internal/eventbus"
	logx "bluecast/pkg/logx"
)

// eventLog echoes system events to the console and appends them to the
// system log.
type eventLog struct {
	console     *broadcast.ConsoleSink
	file        *broadcast.LogFile
	log         logx.Logger
	showConsole atomic.Bool
}

func describe(e eventbus.Event) string {
	d, ok := e.Data.(eventbus.Details)
	if !ok {
		if e.Data == nil {
			return ""
		}
		return fmt.Sprint(e.Data)
	}
	switch {
	case d.Message != "":
		return d.Message
	case d.Peer != "":
		return d.Peer
	default:
		return ""
	}
}

func (l *eventLog) handle(e eventbus.Event) {
	text := describe(e)
	if l.showConsole.Load() && l.console != nil {
		if err := l.console.PrintEvent(e.Time, e.Type, text); err != nil {
			l.log.Debug("event echo failed", logx.Err(err))
		}
	}
	if l.file != nil {
		if err := l.file.WriteLine(broadcast.FormatRecord(e.Time, e.Type, text)); err != nil {
			l.log.Warn("system log write failed", logx.String("type", e.Type), logx.Err(err))
		}
	}
	l.log.Debug("event", logx.String("type", e.Type), logx.String("details", text))
}

// run consumes events until the subscription is closed.
func (l *eventLog) run(events <-chan eventbus.Event) {
	for e := range events {
		l.handle(e)
	}
}
