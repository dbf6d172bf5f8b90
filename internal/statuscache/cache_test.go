package statuscache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bluecast/internal/clock"
)

func TestGetRefreshesOncePerTTL(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(clk)
	var calls int
	refresh := func(context.Context) (bool, error) {
		calls++
		return true, nil
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if v, err := Get(ctx, c, "adapter-available", 30*time.Second, refresh); err != nil || !v {
			t.Fatalf("Get = (%v, %v)", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("calls within TTL = %d, want 1", calls)
	}

	clk.Advance(29 * time.Second)
	if _, err := Get(ctx, c, "adapter-available", 30*time.Second, refresh); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls just before expiry = %d, want 1", calls)
	}

	clk.Advance(time.Second)
	if _, err := Get(ctx, c, "adapter-available", 30*time.Second, refresh); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls after expiry = %d, want 2", calls)
	}
	if st := c.Stats(); st.Hits != 2 || st.Refreshes != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFailedRefreshIsNotCached(t *testing.T) {
	c := New(clock.Fake(time.Unix(0, 0)))
	boom := errors.New("dbus unreachable")
	var calls int
	refresh := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 3, nil
	}

	_, err := Get(context.Background(), c, "paired-devices", time.Minute, refresh)
	if !errors.Is(err, ErrCacheRefresh) || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	v, err := Get(context.Background(), c, "paired-devices", time.Minute, refresh)
	if err != nil || v != 3 {
		t.Fatalf("Get after failure = (%v, %v)", v, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestConcurrentMissesShareOneRefresh(t *testing.T) {
	c := New(clock.Fake(time.Unix(0, 0)))
	release := make(chan struct{})
	var calls atomic.Int32
	refresh := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "hci0", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Get(context.Background(), c, "adapter-info", 2*time.Minute, refresh)
			if err != nil {
				t.Error(err)
				return
			}
			results <- v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if got := calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	for v := range results {
		if v != "hci0" {
			t.Fatalf("value = %q", v)
		}
	}
}

func TestCallerCancellationDoesNotAbortRefresh(t *testing.T) {
	c := New(clock.Fake(time.Unix(0, 0)))
	release := make(chan struct{})
	done := make(chan struct{})
	refresh := func(ctx context.Context) (int, error) {
		defer close(done)
		<-release
		return 7, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Get(ctx, c, "k", time.Minute, refresh)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	close(release)
	<-done

	v, err := Get(context.Background(), c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("should be cached")
	})
	if err != nil || v != 7 {
		t.Fatalf("Get = (%v, %v), want cached 7", v, err)
	}
}

func TestInvalidate(t *testing.T) {
	c := New(nil)
	var calls int
	refresh := func(context.Context) (int, error) { calls++; return calls, nil }
	_, _ = Get(context.Background(), c, "k", time.Hour, refresh)
	c.Invalidate("k")
	v, _ := Get(context.Background(), c, "k", time.Hour, refresh)
	if v != 2 {
		t.Fatalf("v = %d, want 2", v)
	}
}
