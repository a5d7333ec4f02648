package bluez

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/rigado/a2dp/sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testObjects() managedObjects {
	return managedObjects{
		"/org/bluez/hci0": {
			adapterIface: {
				"Address": dbus.MakeVariant("00:1A:7D:DA:71:13"),
				"Name":    dbus.MakeVariant("gateway"),
				"Powered": dbus.MakeVariant(true),
			},
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": {
			deviceIface: {
				"Name":    dbus.MakeVariant("speaker"),
				"Paired":  dbus.MakeVariant(true),
				"Adapter": dbus.MakeVariant(dbus.ObjectPath("/org/bluez/hci0")),
				"UUIDs": dbus.MakeVariant([]string{
					"0000110b-0000-1000-8000-00805f9b34fb",
					"0000110d-0000-1000-8000-00805f9b34fb",
				}),
			},
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66": {
			deviceIface: {
				"Address": dbus.MakeVariant("11:22:33:44:55:66"),
				"Alias":   dbus.MakeVariant("phone"),
				"UUIDs":   dbus.MakeVariant([]string{"0000110A-0000-1000-8000-00805F9B34FB", "not-a-uuid"}),
			},
		},
		"/org/bluez": {
			"org.bluez.AgentManager1": {},
		},
	}
}

func TestAdaptersFrom(t *testing.T) {
	adapters := adaptersFrom(testObjects())
	require.Len(t, adapters, 1)
	assert.Equal(t, Adapter{Path: "/org/bluez/hci0", Address: "00:1A:7D:DA:71:13", Name: "gateway", Powered: true}, adapters[0])
}

func TestDevicesFrom(t *testing.T) {
	devs := devicesFrom(testObjects())
	require.Len(t, devs, 2)

	phone, speaker := devs[0], devs[1]
	assert.Equal(t, "11:22:33:44:55:66", phone.Address)
	assert.Equal(t, "phone", phone.Alias)
	assert.False(t, phone.Paired)
	assert.True(t, phone.SupportsA2DP(sdp.AudioSourceRole))
	assert.False(t, phone.SupportsA2DP(sdp.AudioSinkRole))

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", speaker.Address)
	assert.Equal(t, "/org/bluez/hci0", speaker.Adapter)
	assert.True(t, speaker.Paired)
	assert.True(t, speaker.SupportsA2DP(sdp.AudioSinkRole))

	addr, err := speaker.Addr()
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", addr.String())
}
