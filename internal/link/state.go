package link

import (
	"strconv"
	"time"
)

// State is the connection manager's lifecycle state.
type State int32

const (
	Disconnected State = iota
	Listening
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// DefaultBackoff is used when no schedule is configured.
var DefaultBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second}

// BackoffSchedule hands out waits in order, repeating the last one.
// It is not safe for concurrent use; the manager's loop owns it.
type BackoffSchedule struct {
	steps []time.Duration
	idx   int
}

func NewBackoff(steps []time.Duration) *BackoffSchedule {
	b := &BackoffSchedule{}
	b.SetSteps(steps)
	return b
}

// SetSteps replaces the schedule, keeping the position within bounds.
func (b *BackoffSchedule) SetSteps(steps []time.Duration) {
	if len(steps) == 0 {
		steps = DefaultBackoff
	}
	b.steps = append([]time.Duration(nil), steps...)
	b.idx = min(b.idx, len(b.steps)-1)
}

// Next returns the current wait and advances, saturating at the last step.
func (b *BackoffSchedule) Next() time.Duration {
	d := b.steps[b.idx]
	if b.idx < len(b.steps)-1 {
		b.idx++
	}
	return d
}

func (b *BackoffSchedule) Reset() { b.idx = 0 }

func (b *BackoffSchedule) Index() int { return b.idx }
