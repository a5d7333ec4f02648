package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/l2cap"
	"github.com/rigado/a2dp/sdp"
	"github.com/urfave/cli"
)

type remoteEndpointDoc struct {
	avdtp.EndpointInfo `yaml:",inline"`
	Capabilities       map[string]string `yaml:"capabilities,omitempty"`
	Error              string            `yaml:"error,omitempty"`
}

type remoteDoc struct {
	Address   string              `yaml:"address"`
	Records   []sdp.A2DPInfo      `yaml:"records"`
	Endpoints []remoteEndpointDoc `yaml:"endpoints,omitempty"`
}

func discover(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: discover ADDR")
	}
	remote, err := a2dp.ParseAddr(c.Args().First())
	if err != nil {
		return err
	}
	doc := remoteDoc{Address: remote.String()}

	psm, err := discoverRecords(remote, &doc)
	if err != nil {
		return chkErr(err)
	}
	if err := discoverEndpoints(remote, psm, &doc); err != nil {
		return chkErr(err)
	}
	return printYAML(doc)
}

func discoverRecords(remote a2dp.Addr, doc *remoteDoc) (uint16, error) {
	conn, err := l2cap.Dial(remote, a2dp.PSMSDP, l2cap.OptMTU(cfg.L2CAP.MTU))
	if err != nil {
		return 0, errors.Wrap(err, "can't connect to sdp")
	}
	sock, err := sdp.NewClientSocket(conn, sdp.OptTimeout(cfg.Exchange.Timeout))
	if err != nil {
		conn.Close()
		return 0, err
	}
	defer sock.Close()

	svcs, err := sdp.NewClient(sock).Discover([]sdp.UUID{sdp.ClassAdvancedAudioDistribution})
	if err != nil {
		return 0, errors.Wrap(err, "sdp discover")
	}

	psm := a2dp.PSMAVDTP
	for _, svc := range svcs {
		info, err := sdp.ParseA2DPRecord(svc)
		if err != nil {
			continue
		}
		doc.Records = append(doc.Records, info)
		psm = info.PSM
	}
	if len(doc.Records) == 0 {
		return 0, errors.Wrap(a2dp.ErrUnavailable, "no a2dp record")
	}
	return psm, nil
}

func discoverEndpoints(remote a2dp.Addr, psm uint16, doc *remoteDoc) error {
	conn, err := l2cap.Dial(remote, psm, l2cap.OptMTU(cfg.L2CAP.MTU))
	if err != nil {
		return errors.Wrap(err, "can't connect to avdtp")
	}
	sock, err := avdtp.NewSocket(conn, avdtp.Signalling, avdtp.OptTimeout(cfg.Exchange.Timeout))
	if err != nil {
		conn.Close()
		return err
	}
	defer sock.Close()

	client := avdtp.NewClient(sock)
	eps, err := client.Discover()
	if err != nil {
		return errors.Wrap(err, "avdtp discover")
	}
	for _, ep := range eps {
		d := remoteEndpointDoc{EndpointInfo: ep}
		caps, err := client.GetAllCapabilities(ep.ID)
		if _, ok := errors.Cause(err).(*avdtp.RejectError); ok {
			caps, err = client.GetCapabilities(ep.ID)
		}
		if err != nil {
			d.Error = err.Error()
		} else {
			d.Capabilities = capabilityDoc(caps)
		}
		doc.Endpoints = append(doc.Endpoints, d)
	}
	return nil
}
