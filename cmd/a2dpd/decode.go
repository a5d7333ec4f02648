package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/sdp"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

type signalDoc struct {
	Label        uint8                `yaml:"label"`
	Signal       string               `yaml:"signal"`
	Type         string               `yaml:"type"`
	Error        string               `yaml:"error,omitempty"`
	Data         uint8                `yaml:"data,omitempty"`
	Payload      string               `yaml:"payload,omitempty"`
	Endpoints    []avdtp.EndpointInfo `yaml:"endpoints,omitempty"`
	Capabilities map[string]string    `yaml:"capabilities,omitempty"`
}

type pduDoc struct {
	Type          string   `yaml:"type"`
	TransactionID uint16   `yaml:"tid"`
	Error         string   `yaml:"error,omitempty"`
	Payload       string   `yaml:"payload,omitempty"`
	Elements      []string `yaml:"elements,omitempty"`
	Trailing      string   `yaml:"trailing,omitempty"`
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	return b, errors.Wrapf(err, "bad hex %q", s)
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}

func capabilityDoc(c avdtp.Capabilities) map[string]string {
	out := map[string]string{}
	for cat, data := range c {
		out[cat.String()] = hex.EncodeToString(data)
	}
	return out
}

// decodeSignal reassembles the packets of one signalling message.
func decodeSignal(packets [][]byte) (*signalDoc, error) {
	s := avdtp.NewSignal()
	for i, pkt := range packets {
		if err := s.Deserialize(pkt); err != nil {
			return nil, errors.Wrapf(err, "packet %d", i)
		}
	}
	if !s.IsComplete() {
		return nil, errors.Errorf("incomplete after %d of %d packets", s.ProcessedPackets(), s.ExpectedPackets())
	}

	doc := &signalDoc{
		Label:   s.Label,
		Signal:  s.ID.String(),
		Type:    s.Type.String(),
		Payload: hex.EncodeToString(s.Payload),
	}
	if s.Error != avdtp.Success {
		doc.Error = s.Error.String()
		doc.Data = s.Data
	}
	if s.Type != avdtp.ResponseAccept {
		return doc, nil
	}

	switch s.ID {
	case avdtp.SignalDiscover:
		if eps, err := avdtp.ParseDiscover(s.Payload); err == nil {
			doc.Endpoints = eps
		}
	case avdtp.SignalGetCapabilities, avdtp.SignalGetAllCapabilities, avdtp.SignalGetConfiguration:
		if caps, perr := avdtp.ParseCapabilities(s.Payload, nil, avdtp.BadServCategory); perr == nil {
			doc.Capabilities = capabilityDoc(caps)
		}
	}
	return doc, nil
}

// decodePDU decodes one SDP PDU. Parameters that are not data elements end
// the element list and are reported as trailing bytes.
func decodePDU(b []byte) (*pduDoc, error) {
	var pdu sdp.PDU
	if err := pdu.Deserialize(b); err != nil {
		return nil, err
	}

	doc := &pduDoc{
		Type:          pdu.Type.String(),
		TransactionID: pdu.TransactionID,
		Payload:       hex.EncodeToString(pdu.Payload),
	}
	if pdu.Error != sdp.Success {
		doc.Error = pdu.Error.String()
	}

	p := sdp.WrapPayload(pdu.Payload)
	for p.Available() > 0 {
		rest := pdu.Payload[len(pdu.Payload)-p.Available():]
		e, ok := p.PopElement()
		if !ok {
			doc.Trailing = hex.EncodeToString(rest)
			break
		}
		doc.Elements = append(doc.Elements, e.String())
	}
	return doc, nil
}

func decodeAVDTP(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: decode avdtp HEX...")
	}
	var packets [][]byte
	for _, arg := range c.Args() {
		b, err := parseHex(arg)
		if err != nil {
			return err
		}
		packets = append(packets, b)
	}
	doc, err := decodeSignal(packets)
	if err != nil {
		return err
	}
	return printYAML(doc)
}

func decodeSDP(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: decode sdp HEX")
	}
	b, err := parseHex(c.Args().First())
	if err != nil {
		return err
	}
	doc, err := decodePDU(b)
	if err != nil {
		return err
	}
	return printYAML(doc)
}
