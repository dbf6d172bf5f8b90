// Package command classifies cleaned text as a plain message or a directive.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Prefix marks a directive.
const Prefix = "!"

// Directive names.
const (
	NameStatus = "status"
	NameVolume = "volume"
	NameTest   = "test"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownCommand  = errors.New("unknown command")
)

// Kind is the routing decision for one message.
type Kind int

const (
	KindMessage Kind = iota
	KindStatus
	KindVolume
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStatus:
		return NameStatus
	case KindVolume:
		return NameVolume
	case KindTest:
		return NameTest
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Directive is a parsed "!name [argument]".
type Directive struct {
	Name string // lower-cased
	Arg  string // remainder after the name, trimmed; may be empty
}

// Parse splits a directive. ok is false when text does not start with Prefix.
func Parse(text string) (d Directive, ok bool) {
	if !strings.HasPrefix(text, Prefix) {
		return Directive{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(text, Prefix))
	name, arg, _ := strings.Cut(rest, " ")
	if i := strings.IndexAny(name, "\t\r\n"); i >= 0 {
		name, arg = name[:i], name[i+1:]+" "+arg
	}
	return Directive{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

// Route is what the pipeline should do with a message.
type Route struct {
	Kind      Kind
	Directive Directive
	// Text is the payload to broadcast: the message itself, the status
	// summary, a volume confirmation or the synthetic test message.
	Text   string
	Volume int // set for KindVolume
}

// StatusSource renders the status summary for "!status".
type StatusSource interface {
	Summary(ctx context.Context) string
}

// VolumeControl receives the new volume for "!volume".
type VolumeControl interface {
	SetVolume(v int)
}

const TestMessage = "This is a test message from Bluetooth receiver"

// Router applies directives. It is safe for concurrent use when its
// collaborators are.
type Router struct {
	status StatusSource
	volume VolumeControl
}

func NewRouter(status StatusSource, volume VolumeControl) *Router {
	return &Router{status: status, volume: volume}
}

// Route classifies text. Plain text passes through unchanged. A rejected
// directive returns ErrInvalidArgument or ErrUnknownCommand and has no
// side effects.
func (r *Router) Route(ctx context.Context, text string) (Route, error) {
	d, ok := Parse(text)
	if !ok {
		return Route{Kind: KindMessage, Text: text}, nil
	}

	switch d.Name {
	case NameStatus:
		summary := "status unavailable"
		if r.status != nil {
			summary = r.status.Summary(ctx)
		}
		return Route{Kind: KindStatus, Directive: d, Text: summary}, nil

	case NameVolume:
		v, err := ParseVolume(d.Arg)
		if err != nil {
			return Route{}, err
		}
		if r.volume != nil {
			r.volume.SetVolume(v)
		}
		return Route{Kind: KindVolume, Directive: d, Volume: v, Text: fmt.Sprintf("Volume set to %d", v)}, nil

	case NameTest:
		return Route{Kind: KindTest, Directive: d, Text: TestMessage}, nil

	case "":
		return Route{}, fmt.Errorf("%w: empty directive", ErrUnknownCommand)
	default:
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownCommand, d.Name)
	}
}

// ParseVolume parses a decimal integer and clamps it to [0,100].
func ParseVolume(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, fmt.Errorf("%w: volume requires a number", ErrInvalidArgument)
	}
	if f := strings.Fields(arg); len(f) > 1 {
		return 0, fmt.Errorf("%w: volume takes one argument", ErrInvalidArgument)
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: volume %q is not a number", ErrInvalidArgument, arg)
	}
	return max(0, min(100, n)), nil
}
