package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/config"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	flgConfig  = cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"}
	flgLevel   = cli.StringFlag{Name: "log-level, l", Usage: "override log.level"}
	flgTimeout = cli.DurationFlag{Name: "tmo, t", Usage: "override exchange.timeout"}
	flgMetrics = cli.StringFlag{Name: "metrics, m", Usage: "serve Prometheus metrics on this address"}
)

var cfg *config.Config

func main() {
	app := cli.NewApp()

	app.Name = "a2dpd"
	app.Usage = "A2DP signalling daemon (SDP + AVDTP)"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{flgConfig, flgLevel, flgTimeout}

	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Listen on the SDP and AVDTP PSMs and serve the configured profile",
			Action: serve,
			Flags:  []cli.Flag{flgMetrics},
		},
		{
			Name:  "decode",
			Usage: "Decode captured frames to YAML",
			Subcommands: []cli.Command{
				{
					Name:      "avdtp",
					Usage:     "Reassemble AVDTP signalling packets",
					ArgsUsage: "HEX...",
					Action:    decodeAVDTP,
				},
				{
					Name:      "sdp",
					Usage:     "Decode one SDP PDU",
					ArgsUsage: "HEX",
					Action:    decodeSDP,
				},
			},
		},
		{
			Name:      "discover",
			Usage:     "Query the A2DP record and stream endpoints of a remote device",
			ArgsUsage: "ADDR",
			Action:    discover,
		},
		{
			Name:   "devices",
			Usage:  "List devices known to BlueZ that advertise A2DP",
			Action: devices,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "all, a", Usage: "include devices without A2DP"},
			},
		},
	}

	app.Before = setup
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	var err error
	if cfg, err = config.Load(c.GlobalString("config")); err != nil {
		return err
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if tmo := c.GlobalDuration("tmo"); tmo > 0 {
		cfg.Exchange.Timeout = tmo
	}
	return errors.Wrap(setupLogging(cfg.Log), "can't set up logging")
}

func setupLogging(lc config.LogConfig) error {
	if err := a2dp.SetLogLevel(lc.Level); err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if lc.File.Path != "" {
		out = &lumberjack.Logger{
			Filename:   lc.File.Path,
			MaxSize:    lc.File.MaxSize,
			MaxBackups: lc.File.MaxBackups,
			MaxAge:     lc.File.MaxAge,
			Compress:   lc.File.Compress,
		}
		a2dp.SetLogFormatter(&logrus.JSONFormatter{})
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		a2dp.SetLogFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	}
	a2dp.SetLogOutput(out)
	return nil
}

func chkErr(err error) error {
	if err == nil {
		return nil
	}
	if a2dp.Is(err, a2dp.ErrTimedOut) {
		return errors.Wrap(err, "no response from peer")
	}
	return err
}
