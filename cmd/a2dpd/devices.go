package main

import (
	"github.com/pkg/errors"
	"github.com/rigado/a2dp/bluez"
	"github.com/rigado/a2dp/sdp"
	"github.com/urfave/cli"
)

func devices(c *cli.Context) error {
	client, err := bluez.Connect()
	if err != nil {
		return errors.Wrap(err, "can't reach bluez")
	}
	defer client.Close()

	var out []bluez.Device
	if c.Bool("all") {
		out, err = client.Devices()
	} else {
		// a source streams to remote sinks and the other way round
		role, rerr := cfg.Profile.AudioRole()
		if rerr != nil {
			return rerr
		}
		peer := sdp.AudioSinkRole
		if role == sdp.AudioSinkRole {
			peer = sdp.AudioSourceRole
		}
		out, err = client.AudioDevices(peer)
	}
	if err != nil {
		return err
	}
	return printYAML(out)
}
