package app

import (
	"context"
	"fmt"
	"strings"

	"bluecast/internal/bluez"
	"bluecast/internal/config"
	"bluecast/internal/status"
	"bluecast/internal/statuscache"
	"bluecast/internal/storage"
	logx "bluecast/pkg/logx"
)

// recentLimit is how many history records "bluecast status" prints.
const recentLimit = 5

// QueryStatus answers "bluecast status" without starting the link: adapter
// summary, bluetoothd unit state and, when history is on, recent messages.
func QueryStatus(ctx context.Context, cfg *config.Config, log logx.Logger) (string, error) {
	ttls, err := config.ParseCacheTTLs(cfg)
	if err != nil {
		return "", err
	}
	q, client, dialErr := bluez.Open(ctx, cfg.Bluetooth.Adapter)
	if client != nil {
		defer client.Close()
	}
	r := status.NewReporter(statuscache.New(nil), q, ttls, log)

	var b strings.Builder
	b.WriteString(r.Summary(ctx))
	b.WriteString("\n")
	if dialErr != nil {
		fmt.Fprintf(&b, "bluez: %v\n", dialErr)
	}
	if unit, err := bluez.UnitState(ctx, bluez.ServiceUnit); err != nil {
		fmt.Fprintf(&b, "%s: unknown (%v)\n", bluez.ServiceUnit, err)
	} else {
		fmt.Fprintf(&b, "%s: %s\n", bluez.ServiceUnit, unit)
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return b.String(), err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return b.String(), err
	}
	defer st.Close()
	recs, err := st.Recent(ctx, recentLimit)
	if err != nil {
		return b.String(), err
	}
	fmt.Fprintf(&b, "recent messages (%d):\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(&b, "  %s  %-17s  %s\n", rec.At.Format("2006-01-02 15:04:05"), rec.Sender, rec.Text)
	}
	return b.String(), nil
}
