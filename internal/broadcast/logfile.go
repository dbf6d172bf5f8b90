package broadcast

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	logBufferSize    = 8 << 10
	logFlushInterval = time.Second
)

var ErrLogClosed = errors.New("log file closed")

// LogFile is an append-only, buffered, line-oriented file with a single
// writer. Lines reach disk on Flush, on the Run ticker, or on Close.
type LogFile struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func OpenLogFile(path string) (*LogFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &LogFile{path: path, f: f, w: bufio.NewWriterSize(f, logBufferSize)}, nil
}

func (l *LogFile) Path() string { return l.path }

func (l *LogFile) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return ErrLogClosed
	}
	if _, err := l.w.WriteString(line); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

func (l *LogFile) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	return l.w.Flush()
}

// Run flushes on a ticker until ctx is done, then flushes once more.
func (l *LogFile) Run(ctx context.Context) error {
	t := time.NewTicker(logFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return l.Flush()
		case <-t.C:
			if err := l.Flush(); err != nil {
				return err
			}
		}
	}
}

func (l *LogFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.w.Flush()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.w = nil, nil
	return err
}

var oneLine = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FormatRecord renders "<RFC3339> | <field> | <text>" on a single line.
func FormatRecord(at time.Time, field, text string) string {
	if field == "" {
		field = "unknown"
	}
	return at.Format(time.RFC3339) + " | " + field + " | " + oneLine.Replace(text)
}

// LogSink appends one record per message.
type LogSink struct {
	file *LogFile
}

func NewLogSink(file *LogFile) *LogSink { return &LogSink{file: file} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, msg Message) error {
	return s.file.WriteLine(FormatRecord(msg.ReceivedAt, msg.Sender, msg.Text))
}
