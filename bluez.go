package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName            = "org.bluez"
	bluezRoot          = "/org/bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	profileIface       = "org.bluez.Profile1"
	profileManager     = "org.bluez.ProfileManager1"
	propsIface         = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

func adapterObjectPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath(bluezRoot + "/" + adapter)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapterObjectPath(adapter)) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapter string, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapterObjectPath(adapter)) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// bluez wraps a system D-Bus connection for BlueZ operations.
type bluez struct {
	conn    *dbus.Conn
	adapter string
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to system bus: %v", ErrAdapterUnavailable, err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
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
		conn.Close()
		return nil, fmt.Errorf("%w: org.bluez not found on system bus, is bluetooth.service running?", ErrAdapterUnavailable)
	}
	return &bluez{conn: conn, adapter: adapter}, nil
}

func (b *bluez) close() error {
	return b.conn.Close()
}

// --- property helpers ---

func (b *bluez) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bluez) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// --- adapter ---

// checkAdapter fails with ErrAdapterUnavailable unless the configured
// adapter exists and is powered.
func (b *bluez) checkAdapter() error {
	powered, err := b.getBool(adapterObjectPath(b.adapter), adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAdapterUnavailable, b.adapter, err)
	}
	if !powered {
		return fmt.Errorf("%w: %s is powered off", ErrAdapterUnavailable, b.adapter)
	}
	return nil
}

// --- devices ---

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// pairedDevices lists the devices on our adapter that BlueZ reports as
// paired, sorted by name.
func (b *bluez) pairedDevices() ([]PeerDevice, error) {
	var objs managedObjects
	err := b.conn.Object(busName, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return pairedFromObjects(b.adapter, objs), nil
}

func pairedFromObjects(adapter string, objs managedObjects) []PeerDevice {
	var devices []PeerDevice
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		addr := macFromPath(adapter, path)
		if addr == "" {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		name, _ := props["Name"].Value().(string)
		if name == "" {
			name, _ = props["Alias"].Value().(string)
		}
		if a, ok := props["Address"].Value().(string); ok && a != "" {
			addr = a
		}
		devices = append(devices, PeerDevice{Name: name, Address: addr})
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Address < devices[j].Address
	})
	return devices
}

// --- profiles ---

func (b *bluez) registerProfile(path dbus.ObjectPath, service ServiceID, opts map[string]dbus.Variant) error {
	obj := b.conn.Object(busName, bluezRoot)
	return obj.Call(profileManager+".RegisterProfile", 0, path, service.String(), opts).Err
}

func (b *bluez) unregisterProfile(path dbus.ObjectPath) error {
	obj := b.conn.Object(busName, bluezRoot)
	return obj.Call(profileManager+".UnregisterProfile", 0, path).Err
}
