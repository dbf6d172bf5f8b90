package bluez

import "context"

// Unavailable answers every query with an explicit "no bluetooth" value.
// It is used on hosts where the system bus or bluetoothd is missing.
type Unavailable struct {
	Adapter string
	Reason  string
}

func (Unavailable) AdapterAvailable(context.Context) (bool, error) { return false, nil }

func (Unavailable) PairedDevices(context.Context) ([]Device, error) { return []Device{}, nil }

func (u Unavailable) AdapterInfo(context.Context) (AdapterInfo, error) {
	return AdapterInfo{Available: false, Adapter: u.Adapter}, nil
}

// Open dials BlueZ and falls back to Unavailable when that fails. The
// client is nil in the fallback case; err says why.
func Open(ctx context.Context, adapter string) (Querier, *Client, error) {
	c, err := Dial(ctx, adapter)
	if err != nil {
		return Unavailable{Adapter: adapter, Reason: err.Error()}, nil, err
	}
	return c, c, nil
}
