// Package message holds the inbound frame type and the control-byte cleaner.
package message

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Incoming is one received frame. It is not modified after New returns.
type Incoming struct {
	Raw        []byte
	Sender     string // peer address, e.g. "AA:BB:CC:DD:EE:FF"
	ReceivedAt time.Time
	Text       string // Raw after Clean
}

// New copies raw and cleans it.
func New(raw []byte, sender string, at time.Time) Incoming {
	cp := append([]byte(nil), raw...)
	return Incoming{Raw: cp, Sender: sender, ReceivedAt: at, Text: Clean(cp)}
}

// Clean decodes b as UTF-8 and removes every rune in U+0000..U+001F and
// U+007F..U+009F except '\n', '\r' and '\t'. Invalid bytes are dropped.
func Clean(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if isControl(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isControl(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	}
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F)
}

// Truncate shortens s to at most n runes, appending suffix when it cut.
// n <= 0 disables truncation.
func Truncate(s string, n int, suffix string) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + suffix
		}
		i++
	}
	return s
}
