package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"bluecast/internal/message"
)

// SpeechTruncated is appended when a message is cut before speaking.
const SpeechTruncated = "... message truncated"

// Runner executes a command with stdin.
type Runner func(ctx context.Context, stdin string, name string, args ...string) error

// ExecRunner runs the command with os/exec and folds its output into the error.
func ExecRunner(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

type SpeechConfig struct {
	Command  string // espeak-compatible binary
	Voice    string
	Rate     int // words per minute
	MaxChars int
}

// SpeechSink speaks messages one at a time. Text is passed on stdin so a
// message starting with '-' is never parsed as a flag.
type SpeechSink struct {
	volume *Volume
	run    Runner
	sem    chan struct{}

	mu  sync.RWMutex
	cfg SpeechConfig
}

func NewSpeechSink(cfg SpeechConfig, volume *Volume, run Runner) *SpeechSink {
	if run == nil {
		run = ExecRunner
	}
	if volume == nil {
		volume = NewVolume(80)
	}
	s := &SpeechSink{volume: volume, run: run, sem: make(chan struct{}, 1)}
	s.Apply(cfg)
	return s
}

// Apply swaps the command settings; a message being spoken keeps the old ones.
func (s *SpeechSink) Apply(cfg SpeechConfig) {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "espeak"
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 150
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *SpeechSink) config() SpeechConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *SpeechSink) Name() string { return "speech" }

// Args returns the command line for the current volume.
func (s *SpeechSink) Args() []string {
	return s.args(s.config())
}

func (s *SpeechSink) args(cfg SpeechConfig) []string {
	args := []string{
		"-s", strconv.Itoa(cfg.Rate),
		// espeak amplitude runs 0..200
		"-a", strconv.Itoa(s.volume.Get() * 2),
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		args = append(args, "-v", v)
	}
	return append(args, "--stdin")
}

func (s *SpeechSink) Send(ctx context.Context, msg Message) error {
	cfg := s.config()
	text := strings.TrimSpace(message.Truncate(msg.Text, cfg.MaxChars, SpeechTruncated))
	if text == "" {
		return nil
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for previous speech: %w", ctx.Err())
	}
	defer func() { <-s.sem }()
	return s.run(ctx, text, cfg.Command, s.args(cfg)...)
}
