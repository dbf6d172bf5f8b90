package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config selects and configures a driver.
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// Record is one dispatched message. Keep it compact and schema-stable.
type Record struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Sender string    `json:"sender"`
	Kind   string    `json:"kind"` // message, status, test
	Text   string    `json:"text"`
}
