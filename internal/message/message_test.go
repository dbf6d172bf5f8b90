package message

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "Hello from Android", want: "Hello from Android"},
		{name: "keeps whitespace controls", in: "a\tb\r\nc", want: "a\tb\r\nc"},
		{name: "drops c0", in: "\x00he\x07llo\x1b[0m\x1f", want: "hello[0m"},
		{name: "drops del and c1", in: "x\x7fy\u0085z\u009f", want: "xyz"},
		{name: "keeps non-ascii", in: "héllo ✓ 🎉", want: "héllo ✓ 🎉"},
		{name: "drops invalid utf8", in: "ok\xff\xfe!", want: "ok!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean([]byte(tt.in)); got != tt.want {
				t.Fatalf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanProperties(t *testing.T) {
	// Every byte value, plus a few multi-byte runes around the C1 block.
	var b []byte
	for i := 0; i < 256; i++ {
		b = append(b, byte(i))
	}
	b = append(b, []byte("\u0080\u009f end")...)

	out := Clean(b)
	if !utf8.ValidString(out) {
		t.Fatalf("output is not valid UTF-8: %q", out)
	}
	for _, r := range out {
		if r != '\n' && r != '\r' && r != '\t' && isControl(r) {
			t.Fatalf("control rune %U survived", r)
		}
	}
	if again := Clean([]byte(out)); again != out {
		t.Fatalf("not idempotent: %q then %q", out, again)
	}
	// Printable ASCII must come through in order.
	var want strings.Builder
	want.WriteString("\t\n\r")
	for i := 0x20; i < 0x7f; i++ {
		want.WriteByte(byte(i))
	}
	if !strings.HasPrefix(out, want.String()) {
		t.Fatalf("ordering lost: %q", out)
	}
	if !strings.HasSuffix(out, " end") {
		t.Fatalf("suffix lost: %q", out)
	}
}

func TestNewCopiesRaw(t *testing.T) {
	raw := []byte("hi\x00")
	m := New(raw, "AA:BB:CC:DD:EE:FF", time.Unix(0, 0))
	raw[0] = 'X'
	if string(m.Raw) != "hi\x00" || m.Text != "hi" {
		t.Fatalf("m = %+v", m)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3, "..."); got != "abc..." {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 3, "..."); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("ééé", 2, ""); got != "éé" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abc", 0, "..."); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
