package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/l2cap"
	"github.com/rigado/a2dp/metrics"
	"github.com/rigado/a2dp/profile"
	"github.com/urfave/cli"
)

func serve(c *cli.Context) error {
	p, err := profile.New(cfg)
	if err != nil {
		return errors.Wrap(err, "can't create profile")
	}
	defer p.Close()

	logger := a2dp.ComponentLogger("a2dpd")

	addr := cfg.Metrics.Addr
	if s := c.String("metrics"); s != "" {
		addr = s
	}
	if addr != "" {
		ms := metrics.NewServer(addr, cfg.Metrics.Path)
		if err := ms.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			ms.Stop(ctx)
		}()
	}

	var listeners []io.Closer
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()
	for _, psm := range []uint16{a2dp.PSMSDP, a2dp.PSMAVDTP} {
		l, err := l2cap.Listen(psm, l2cap.OptMTU(cfg.L2CAP.MTU), l2cap.OptLogger(logger))
		if err != nil {
			return errors.Wrapf(err, "can't listen on psm 0x%04x", psm)
		}
		listeners = append(listeners, l)
		go acceptLoop(p, l, psm, logger)
	}
	logger.Infof("serving %v %q", cfg.Profile.Role, cfg.SDP.Name)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Infof("got %v, shutting down", s)
	return nil
}

func acceptLoop(p *profile.Profile, l *l2cap.Listener, psm uint16, logger a2dp.Logger) {
	for {
		conn, err := l.Accept()
		if err != nil {
			logger.Debugf("psm 0x%04x: accept: %v", psm, err)
			return
		}
		if _, err := p.Attach(conn, psm); err != nil {
			logger.Warnf("psm 0x%04x: %v", psm, err)
			conn.Close()
		}
	}
}
