// Package receiver turns frames read from a link into broadcasts: it
// validates the cleaned text, routes directives and writes the reply line.
package receiver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"bluecast/internal/broadcast"
	"bluecast/internal/command"
	"bluecast/internal/message"
	logx "bluecast/pkg/logx"
)

// Dispatcher is the part of broadcast.Dispatcher the pipeline uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg broadcast.Message, only ...string) broadcast.Summary
	Test(ctx context.Context, text, sender string) broadcast.Summary
}

// Router is the part of command.Router the pipeline uses.
type Router interface {
	Route(ctx context.Context, text string) (command.Route, error)
}

type Config struct {
	// MaxMessageChars drops longer messages; 0 disables the limit.
	MaxMessageChars int
	// Ack writes "ACK HH:MM:SS" back after a successful dispatch.
	Ack bool
	// StatusToSpeech also speaks "!status" replies.
	StatusToSpeech bool
}

// Outcome is what happened to one frame.
type Outcome int

const (
	Ignored Outcome = iota // empty after cleaning
	Dropped                // too long
	Rejected               // bad directive
	Broadcast
	VolumeChanged
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	case Broadcast:
		return "broadcast"
	case VolumeChanged:
		return "volume"
	default:
		return "unknown"
	}
}

// Result describes the handling of one frame.
type Result struct {
	Outcome Outcome
	Route   command.Route
	Summary broadcast.Summary
	// Reply is written back to the sender; nil means nothing is sent.
	Reply []byte
	Err   error
}

// Stats counts frames per outcome.
type Stats struct {
	Broadcast uint64
	Ignored   uint64
	Dropped   uint64
	Rejected  uint64
}

// statusSinks receive "!status" replies.
var statusSinks = []string{"console", "log"}

type Pipeline struct {
	router Router
	disp   Dispatcher
	log    logx.Logger

	mu  sync.RWMutex
	cfg Config

	broadcasts atomic.Uint64
	ignored    atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64
}

func New(cfg Config, router Router, disp Dispatcher, log logx.Logger) *Pipeline {
	return &Pipeline{
		router: router,
		disp:   disp,
		log:    log.With(logx.String("comp", "receiver")),
		cfg:    cfg,
	}
}

func (p *Pipeline) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Pipeline) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Broadcast: p.broadcasts.Load(),
		Ignored:   p.ignored.Load(),
		Dropped:   p.dropped.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// HandleFrame satisfies link.Handler.
func (p *Pipeline) HandleFrame(ctx context.Context, in message.Incoming) []byte {
	return p.Process(ctx, in).Reply
}

// Process validates, routes and dispatches one message.
func (p *Pipeline) Process(ctx context.Context, in message.Incoming) Result {
	cfg := p.config()
	text := strings.TrimSpace(in.Text)
	log := p.log.With(logx.String("sender", in.Sender))

	if text == "" {
		p.ignored.Add(1)
		log.Debug("empty message ignored")
		return Result{Outcome: Ignored}
	}
	if n := utf8.RuneCountInString(text); cfg.MaxMessageChars > 0 && n > cfg.MaxMessageChars {
		p.dropped.Add(1)
		log.Warn("message too long; dropped", logx.Int("chars", n), logx.Int("max", cfg.MaxMessageChars))
		return Result{Outcome: Dropped}
	}

	route, err := p.router.Route(ctx, text)
	if err != nil {
		p.rejected.Add(1)
		log.Warn("command rejected", logx.String("text", text), logx.Err(err))
		return Result{Outcome: Rejected, Err: err, Reply: errorReply(err)}
	}

	res := Result{Outcome: Broadcast, Route: route}
	switch route.Kind {
	case command.KindVolume:
		log.Info("volume changed", logx.Int("volume", route.Volume))
		res.Outcome = VolumeChanged
		if cfg.Ack {
			res.Reply = broadcast.EncodeAck(in.ReceivedAt)
		}
		return res

	case command.KindStatus:
		only := statusSinks
		if cfg.StatusToSpeech {
			only = append(append([]string(nil), statusSinks...), "speech")
		}
		res.Summary = p.disp.Dispatch(ctx, broadcast.Message{
			Kind:       broadcast.KindStatus,
			Text:       route.Text,
			Sender:     in.Sender,
			ReceivedAt: in.ReceivedAt,
		}, only...)

	case command.KindTest:
		res.Summary = p.disp.Test(ctx, route.Text, in.Sender)

	default:
		log.Info("message received", logx.String("text", route.Text))
		res.Summary = p.disp.Dispatch(ctx, broadcast.Message{
			Kind:       broadcast.KindMessage,
			Text:       route.Text,
			Sender:     in.Sender,
			ReceivedAt: in.ReceivedAt,
		})
	}

	p.broadcasts.Add(1)
	if cfg.Ack && res.Summary.Delivered() > 0 {
		res.Reply = res.Summary.Ack
	}
	return res
}

// errorReply renders "ERR <reason>" for a rejected directive.
func errorReply(err error) []byte {
	reason := "invalid command"
	switch {
	case errors.Is(err, command.ErrInvalidArgument):
		reason = "invalid argument"
	case errors.Is(err, command.ErrUnknownCommand):
		reason = "unknown command"
	}
	return []byte("ERR " + reason + "\n")
}
