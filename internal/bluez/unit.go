package bluez

import (
	"context"
	"fmt"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
)

// ServiceUnit is the systemd unit that runs bluetoothd.
const ServiceUnit = "bluetooth.service"

// UnitState returns the ActiveState of a systemd unit ("active",
// "inactive", "failed", ...) or "not-found".
func UnitState(ctx context.Context, unit string) (string, error) {
	conn, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return "", fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", unit, err)
	}
	for _, u := range units {
		if u.Name != unit {
			continue
		}
		if u.LoadState == "not-found" {
			return "not-found", nil
		}
		return u.ActiveState, nil
	}
	return "not-found", nil
}
