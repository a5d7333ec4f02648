// Package bluez reads adapters and known devices from BlueZ over D-Bus.
package bluez

import (
	"sort"
	"strings"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/sdp"
)

const (
	bluezService    = "org.bluez"
	deviceIface     = "org.bluez.Device1"
	adapterIface    = "org.bluez.Adapter1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

var logger = a2dp.ComponentLogger("bluez")

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Adapter is an org.bluez.Adapter1 object.
type Adapter struct {
	Path    string `json:"path" yaml:"path"`
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name" yaml:"name"`
	Powered bool   `json:"powered" yaml:"powered"`
}

// Device is an org.bluez.Device1 object.
type Device struct {
	Path      string   `json:"path" yaml:"path"`
	Adapter   string   `json:"adapter" yaml:"adapter"`
	Address   string   `json:"address" yaml:"address"`
	Name      string   `json:"name" yaml:"name"`
	Alias     string   `json:"alias" yaml:"alias"`
	Paired    bool     `json:"paired" yaml:"paired"`
	Connected bool     `json:"connected" yaml:"connected"`
	UUIDs     []string `json:"uuids" yaml:"uuids"`
}

// SupportsA2DP reports whether the device advertises the role's service class.
func (d Device) SupportsA2DP(role sdp.AudioRole) bool {
	class := role.Class()
	for _, s := range d.UUIDs {
		u, err := sdp.ParseUUID(s)
		if err != nil {
			continue
		}
		if u.Equal(class) {
			return true
		}
	}
	return false
}

// Addr parses the device address.
func (d Device) Addr() (a2dp.Addr, error) {
	return a2dp.ParseAddr(d.Address)
}

// Client is a system bus connection.
type Client struct {
	bus *dbus.Conn
}

// Connect connects to the system bus.
func Connect() (*Client, error) {
	c, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}
	return &Client{bus: c}, nil
}

func (c *Client) Close() error {
	return c.bus.Close()
}

func (c *Client) managedObjects() (managedObjects, error) {
	obj := c.bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs managedObjects
	if call := obj.Call(objManagerIface+".GetManagedObjects", 0); call.Err != nil {
		return nil, errors.Wrap(call.Err, "GetManagedObjects")
	} else if err := call.Store(&objs); err != nil {
		return nil, errors.Wrap(err, "decode GetManagedObjects")
	}
	return objs, nil
}

// Adapters lists the local adapters sorted by path.
func (c *Client) Adapters() ([]Adapter, error) {
	objs, err := c.managedObjects()
	if err != nil {
		return nil, err
	}
	return adaptersFrom(objs), nil
}

// Devices lists every device BlueZ knows about, sorted by path.
func (c *Client) Devices() ([]Device, error) {
	objs, err := c.managedObjects()
	if err != nil {
		return nil, err
	}
	return devicesFrom(objs), nil
}

// AudioDevices lists the devices advertising role.
func (c *Client) AudioDevices(role sdp.AudioRole) ([]Device, error) {
	devs, err := c.Devices()
	if err != nil {
		return nil, err
	}
	var out []Device
	for _, d := range devs {
		if d.SupportsA2DP(role) {
			out = append(out, d)
		}
	}
	logger.Debugf("%v of %v devices are audio %v", len(out), len(devs), role)
	return out, nil
}

func adaptersFrom(objs managedObjects) []Adapter {
	var out []Adapter
	for path, ifaces := range objs {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		out = append(out, Adapter{
			Path:    string(path),
			Address: stringProp(props, "Address"),
			Name:    stringProp(props, "Name"),
			Powered: boolProp(props, "Powered"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func devicesFrom(objs managedObjects) []Device {
	var out []Device
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		d := Device{
			Path:      string(path),
			Address:   stringProp(props, "Address"),
			Name:      stringProp(props, "Name"),
			Alias:     stringProp(props, "Alias"),
			Paired:    boolProp(props, "Paired"),
			Connected: boolProp(props, "Connected"),
		}
		if v, ok := props["Adapter"]; ok {
			if p, ok := v.Value().(dbus.ObjectPath); ok {
				d.Adapter = string(p)
			}
		}
		if v, ok := props["UUIDs"]; ok {
			d.UUIDs, _ = v.Value().([]string)
		}
		if d.Address == "" {
			d.Address = addressFromPath(path)
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func stringProp(props map[string]dbus.Variant, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	v, ok := props[name]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// addressFromPath reads .../dev_XX_XX_XX_XX_XX_XX.
func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.Replace(s[idx+len("/dev_"):], "_", ":", -1)
}
