// Package broadcast fans a message out to independent sinks.
//
// Each sink runs in its own goroutine. A failing, panicking or slow sink
// never prevents the others from running and never fails the caller.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSinkFailure = errors.New("sink failure")

// Message kinds.
const (
	KindMessage = "message"
	KindStatus  = "status"
	KindTest    = "test"
)

// Message is one dispatch request.
type Message struct {
	ID         string
	Kind       string
	Text       string
	Sender     string
	ReceivedAt time.Time

	// Ack is the acknowledgment payload, encoded once by Dispatch before
	// any sink runs.
	Ack []byte
}

// Sink is one output channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Result is the outcome of one sink for one message.
type Result struct {
	Sink     string
	OK       bool
	Pending  bool // still running when the dispatcher stopped waiting
	Err      error
	Duration time.Duration
}

func (r Result) String() string {
	switch {
	case r.OK:
		return r.Sink + ": ok"
	case r.Pending:
		return r.Sink + ": pending"
	case r.Err != nil:
		return r.Sink + ": " + r.Err.Error()
	default:
		return r.Sink + ": failed"
	}
}

// Summary aggregates one dispatch.
type Summary struct {
	ID       string
	Kind     string
	Results  []Result
	Ack      []byte
	Duration time.Duration
}

func (s Summary) count(pred func(Result) bool) int {
	n := 0
	for _, r := range s.Results {
		if pred(r) {
			n++
		}
	}
	return n
}

func (s Summary) Delivered() int { return s.count(func(r Result) bool { return r.OK }) }
func (s Summary) Failed() int    { return s.count(func(r Result) bool { return !r.OK && !r.Pending }) }
func (s Summary) Pending() int   { return s.count(func(r Result) bool { return r.Pending }) }

// Result returns the result for the named sink.
func (s Summary) Result(sink string) (Result, bool) {
	for _, r := range s.Results {
		if r.Sink == sink {
			return r, true
		}
	}
	return Result{}, false
}

func (s Summary) String() string {
	parts := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%d/%d delivered [%s]", s.Delivered(), len(s.Results), strings.Join(parts, ", "))
}

// EncodeAck renders the acknowledgment line sent back to the peer.
func EncodeAck(at time.Time) []byte {
	return []byte("ACK " + at.Format("15:04:05") + "\n")
}
