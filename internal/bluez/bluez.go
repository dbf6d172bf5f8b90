// Package bluez answers adapter and device queries over the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	objMgrIface  = "org.freedesktop.DBus.ObjectManager"
)

// SerialPortUUID is the SPP service class.
const SerialPortUUID = "00001101-0000-1000-8000-00805F9B34FB"

var ErrUnavailable = errors.New("bluetooth unavailable")

// Device is a paired remote device.
type Device struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// AdapterInfo is a subset of org.bluez.Adapter1 properties.
type AdapterInfo struct {
	Available    bool   `json:"available"`
	Adapter      string `json:"adapter"`
	Address      string `json:"address,omitempty"`
	Alias        string `json:"alias,omitempty"`
	Powered      bool   `json:"powered"`
	Discoverable bool   `json:"discoverable"`
	Pairable     bool   `json:"pairable"`
	Class        uint32 `json:"class,omitempty"`
}

// Querier answers the three cached status queries.
type Querier interface {
	AdapterAvailable(ctx context.Context) (bool, error)
	PairedDevices(ctx context.Context) ([]Device, error)
	AdapterInfo(ctx context.Context) (AdapterInfo, error)
}

// Client talks to bluetoothd on the system bus.
type Client struct {
	conn    *dbus.Conn
	adapter string
	path    dbus.ObjectPath
}

// Dial opens a private system bus connection and checks that org.bluez is
// present. adapter defaults to "hci0".
func Dial(ctx context.Context, adapter string) (*Client, error) {
	adapter = strings.TrimSpace(adapter)
	if adapter == "" {
		adapter = "hci0"
	}
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to system bus: %w", ErrUnavailable, err)
	}
	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: org.bluez not on the system bus (is bluetooth.service running?)", ErrUnavailable)
	}
	return &Client{conn: conn, adapter: adapter, path: AdapterPath(adapter)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Adapter() string { return c.adapter }

// AdapterPath returns the object path of a local adapter.
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// DevicePath converts "AA:BB:CC:DD:EE:FF" to ".../dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(AdapterPath(adapter)) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

// AddressFromPath extracts a MAC address from a device object path under adapter.
func AddressFromPath(adapter string, path dbus.ObjectPath) string {
	prefix := string(AdapterPath(adapter)) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

func (c *Client) getAll(ctx context.Context, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := c.conn.Object(busName, path).CallWithContext(ctx, propsIface+".GetAll", 0, iface).Store(&props)
	return props, err
}

func (c *Client) setProp(ctx context.Context, prop string, val any) error {
	return c.conn.Object(busName, c.path).
		CallWithContext(ctx, propsIface+".Set", 0, adapterIface, prop, dbus.MakeVariant(val)).Err
}

// AdapterAvailable reports whether the adapter exists and is powered.
func (c *Client) AdapterAvailable(ctx context.Context) (bool, error) {
	var v dbus.Variant
	err := c.conn.Object(busName, c.path).CallWithContext(ctx, propsIface+".Get", 0, adapterIface, "Powered").Store(&v)
	if err != nil {
		var derr dbus.DBusError
		if errors.As(err, &derr) {
			if name, _ := derr.DBusError(); strings.HasSuffix(name, ".UnknownObject") {
				return false, nil
			}
		}
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("Powered is %T, not bool", v.Value())
	}
	return powered, nil
}

// PairedDevices lists devices under the adapter whose Paired property is true.
func (c *Client) PairedDevices(ctx context.Context) ([]Device, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := c.conn.Object(busName, "/").CallWithContext(ctx, objMgrIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return pairedFromObjects(c.adapter, objs), nil
}

func pairedFromObjects(adapter string, objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []Device {
	var out []Device
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		addr := AddressFromPath(adapter, path)
		if addr == "" {
			continue
		}
		if paired, _ := variantBool(props, "Paired"); !paired {
			continue
		}
		d := Device{Address: addr, Name: "Unknown"}
		if s, ok := variantString(props, "Alias"); ok && s != "" {
			d.Name = s
		} else if s, ok := variantString(props, "Name"); ok && s != "" {
			d.Name = s
		}
		d.Connected, _ = variantBool(props, "Connected")
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// AdapterInfo returns the adapter's identity and mode flags.
func (c *Client) AdapterInfo(ctx context.Context) (AdapterInfo, error) {
	props, err := c.getAll(ctx, c.path, adapterIface)
	if err != nil {
		return AdapterInfo{Adapter: c.adapter}, fmt.Errorf("adapter properties: %w", err)
	}
	return infoFromProps(c.adapter, props), nil
}

func infoFromProps(adapter string, props map[string]dbus.Variant) AdapterInfo {
	info := AdapterInfo{Available: true, Adapter: adapter}
	info.Address, _ = variantString(props, "Address")
	info.Alias, _ = variantString(props, "Alias")
	info.Powered, _ = variantBool(props, "Powered")
	info.Discoverable, _ = variantBool(props, "Discoverable")
	info.Pairable, _ = variantBool(props, "Pairable")
	if v, ok := props["Class"]; ok {
		info.Class, _ = v.Value().(uint32)
	}
	return info
}

// MakeDiscoverable powers the adapter on and makes it discoverable and
// pairable under alias, with no discoverable timeout. Every step is
// attempted; the errors are joined.
func (c *Client) MakeDiscoverable(ctx context.Context, alias string) error {
	var errs []error
	steps := []struct {
		prop string
		val  any
	}{
		{"Powered", true},
		{"Alias", alias},
		{"DiscoverableTimeout", uint32(0)},
		{"Discoverable", true},
		{"PairableTimeout", uint32(0)},
		{"Pairable", true},
	}
	for _, st := range steps {
		if st.prop == "Alias" && strings.TrimSpace(alias) == "" {
			continue
		}
		if err := c.setProp(ctx, st.prop, st.val); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", st.prop, err))
		}
	}
	return errors.Join(errs...)
}

func variantBool(props map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func variantString(props map[string]dbus.Variant, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}
