// Package status answers "!status" and the periodic monitor from the
// status cache.
package status

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bluecast/internal/bluez"
	"bluecast/internal/config"
	"bluecast/internal/statuscache"
	logx "bluecast/pkg/logx"
)

// Cache keys.
const (
	KeyAdapterAvailable = "adapter-available"
	KeyPairedDevices    = "paired-devices"
	KeyAdapterInfo      = "adapter-info"
)

// Reporter wraps a bluez.Querier with the status cache.
type Reporter struct {
	cache *statuscache.Cache
	q     bluez.Querier
	log   logx.Logger

	mu   sync.RWMutex
	ttls config.CacheTTLs
}

func NewReporter(cache *statuscache.Cache, q bluez.Querier, ttls config.CacheTTLs, log logx.Logger) *Reporter {
	if q == nil {
		q = bluez.Unavailable{}
	}
	return &Reporter{cache: cache, q: q, ttls: ttls, log: log.With(logx.String("comp", "status"))}
}

// SetTTLs applies reloaded cache TTLs. Entries older than a shortened TTL
// expire on their next read.
func (r *Reporter) SetTTLs(ttls config.CacheTTLs) {
	r.mu.Lock()
	r.ttls = ttls
	r.mu.Unlock()
}

func (r *Reporter) currentTTLs() config.CacheTTLs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ttls
}

// bounded gives every query its own timeout regardless of the caller.
func bounded[V any](timeout time.Duration, fn func(context.Context) (V, error)) func(context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(ctx)
	}
}

func (r *Reporter) AdapterAvailable(ctx context.Context) (bool, error) {
	t := r.currentTTLs()
	return statuscache.Get(ctx, r.cache, KeyAdapterAvailable, t.Status, bounded(t.QueryTimeout, r.q.AdapterAvailable))
}

func (r *Reporter) PairedDevices(ctx context.Context) ([]bluez.Device, error) {
	t := r.currentTTLs()
	return statuscache.Get(ctx, r.cache, KeyPairedDevices, t.Devices, bounded(t.QueryTimeout, r.q.PairedDevices))
}

func (r *Reporter) AdapterInfo(ctx context.Context) (bluez.AdapterInfo, error) {
	t := r.currentTTLs()
	return statuscache.Get(ctx, r.cache, KeyAdapterInfo, t.AdapterInfo, bounded(t.QueryTimeout, r.q.AdapterInfo))
}

// Snapshot is the combined view used by the monitor and "bluecast status".
// Nil pointers mean the query failed.
type Snapshot struct {
	Available *bool
	Paired    []bluez.Device
	PairedErr error
	Info      *bluez.AdapterInfo
}

func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	var s Snapshot
	if ok, err := r.AdapterAvailable(ctx); err == nil {
		s.Available = &ok
	} else {
		r.log.Warn("adapter availability query failed", logx.Err(err))
	}
	s.Paired, s.PairedErr = r.PairedDevices(ctx)
	if s.PairedErr != nil {
		r.log.Warn("paired devices query failed", logx.Err(s.PairedErr))
	}
	if info, err := r.AdapterInfo(ctx); err == nil {
		s.Info = &info
	} else {
		r.log.Debug("adapter info query failed", logx.Err(err))
	}
	return s
}

// Summary renders a one-line status. Failed queries show as "unknown".
func (r *Reporter) Summary(ctx context.Context) string {
	return r.Snapshot(ctx).String()
}

func (s Snapshot) String() string {
	parts := make([]string, 0, 3)

	switch {
	case s.Available == nil:
		parts = append(parts, "Bluetooth: unknown")
	case *s.Available:
		parts = append(parts, "Bluetooth: available")
	default:
		parts = append(parts, "Bluetooth: unavailable")
	}

	if s.PairedErr != nil {
		parts = append(parts, "Paired devices: unknown")
	} else {
		names := make([]string, 0, len(s.Paired))
		for _, d := range s.Paired {
			names = append(names, d.Name)
		}
		p := fmt.Sprintf("Paired devices: %d", len(s.Paired))
		if len(names) > 0 {
			p += " (" + strings.Join(names, ", ") + ")"
		}
		parts = append(parts, p)
	}

	if s.Info != nil && s.Info.Available {
		a := "Adapter: " + s.Info.Adapter
		if s.Info.Alias != "" {
			a += " \"" + s.Info.Alias + "\""
		}
		if s.Info.Address != "" {
			a += " " + s.Info.Address
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " | ")
}
