package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "bluecast/pkg/logx"
)

// fileStore appends one JSON object per line to <path>.
// Recent keeps a bounded in-memory tail loaded at open time.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	tail []Record
}

const fileTailMax = 256

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	tail, err := loadTail(path, fileTailMax)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("history replay failed", logx.String("path", path), logx.Err(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, f: f, tail: tail}, nil
}

func (s *fileStore) AppendMessage(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.tail = append(s.tail, r)
	if len(s.tail) > fileTailMax {
		s.tail = append(s.tail[:0], s.tail[len(s.tail)-fileTailMax:]...)
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	n = min(max(n, 0), len(s.tail))
	out := make([]Record, 0, n)
	for i := len(s.tail) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func loadTail(path string, max int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
		if len(out) > max {
			out = out[1:]
		}
	}
	return out, sc.Err()
}
