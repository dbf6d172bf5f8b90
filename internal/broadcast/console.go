package broadcast

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const consoleMaxWidth = 76

// ConsoleSink prints each message as a bordered block.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer

	box   lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
	event lipgloss.Style
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:   out,
		box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label: lipgloss.NewStyle().Faint(true),
		event: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Render(msg Message) string {
	heading := "BLUETOOTH MESSAGE RECEIVED"
	switch msg.Kind {
	case KindStatus:
		heading = "STATUS"
	case KindTest:
		heading = "BROADCAST TEST"
	}
	lines := []string{
		s.title.Render(heading),
		s.label.Render("Time:") + " " + msg.ReceivedAt.Format("2006-01-02 15:04:05"),
	}
	if msg.Sender != "" {
		lines = append(lines, s.label.Render("From:")+" "+msg.Sender)
	}
	lines = append(lines, s.label.Render("Message:")+" "+msg.Text)
	body := strings.Join(lines, "\n")

	box := s.box
	if lipgloss.Width(body) > consoleMaxWidth {
		box = box.Width(consoleMaxWidth)
	}
	return box.Render(body)
}

func (s *ConsoleSink) Send(_ context.Context, msg Message) error {
	out := s.Render(msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, out)
	return err
}

// PrintEvent echoes a system event as a single line.
func (s *ConsoleSink) PrintEvent(at time.Time, typ, details string) error {
	line := "System Event: " + typ
	if details != "" {
		line += " - " + details
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "[%s] %s\n", at.Format("15:04:05"), s.event.Render(line))
	return err
}
