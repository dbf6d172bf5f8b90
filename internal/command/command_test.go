package command

import (
	"context"
	"errors"
	"testing"
)

type fakeVolume struct {
	v     int
	calls int
}

func (f *fakeVolume) SetVolume(v int) { f.v = v; f.calls++ }

type fixedStatus string

func (s fixedStatus) Summary(context.Context) string { return string(s) }

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		want   Directive
		wantOK bool
	}{
		{in: "hello", wantOK: false},
		{in: " !status", wantOK: false},
		{in: "!status", want: Directive{Name: "status"}, wantOK: true},
		{in: "!VOLUME  42 ", want: Directive{Name: "volume", Arg: "42"}, wantOK: true},
		{in: "!volume\t42", want: Directive{Name: "volume", Arg: "42"}, wantOK: true},
		{in: "!", want: Directive{}, wantOK: true},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Parse(%q) = (%+v, %v), want (%+v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRouteVolumeClamps(t *testing.T) {
	vol := &fakeVolume{v: 80}
	r := NewRouter(nil, vol)
	ctx := context.Background()

	for _, tt := range []struct {
		in   string
		want int
	}{
		{in: "!volume 150", want: 100},
		{in: "!volume -5", want: 0},
		{in: "!volume 35", want: 35},
	} {
		route, err := r.Route(ctx, tt.in)
		if err != nil {
			t.Fatalf("Route(%q): %v", tt.in, err)
		}
		if route.Kind != KindVolume || route.Volume != tt.want || vol.v != tt.want {
			t.Fatalf("Route(%q) = %+v, volume %d; want %d", tt.in, route, vol.v, tt.want)
		}
	}
}

func TestRouteVolumeRejectsGarbage(t *testing.T) {
	vol := &fakeVolume{v: 80}
	r := NewRouter(nil, vol)
	for _, in := range []string{"!volume abc", "!volume", "!volume 1 2", "!volume 99999999999999999999999"} {
		_, err := r.Route(context.Background(), in)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Route(%q) err = %v, want ErrInvalidArgument", in, err)
		}
	}
	if vol.calls != 0 || vol.v != 80 {
		t.Fatalf("volume changed: %+v", vol)
	}
}

func TestRouteStatusAndTest(t *testing.T) {
	r := NewRouter(fixedStatus("Bluetooth: available"), nil)
	route, err := r.Route(context.Background(), "!Status")
	if err != nil || route.Kind != KindStatus || route.Text != "Bluetooth: available" {
		t.Fatalf("status route = %+v, %v", route, err)
	}
	route, err = r.Route(context.Background(), "!test")
	if err != nil || route.Kind != KindTest || route.Text != TestMessage {
		t.Fatalf("test route = %+v, %v", route, err)
	}
}

func TestRouteUnknownAndPlain(t *testing.T) {
	r := NewRouter(nil, nil)
	for _, in := range []string{"!reboot", "!"} {
		if _, err := r.Route(context.Background(), in); !errors.Is(err, ErrUnknownCommand) {
			t.Fatalf("Route(%q) err = %v, want ErrUnknownCommand", in, err)
		}
	}
	route, err := r.Route(context.Background(), "Hello from Android")
	if err != nil || route.Kind != KindMessage || route.Text != "Hello from Android" {
		t.Fatalf("plain route = %+v, %v", route, err)
	}
}
