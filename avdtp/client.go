package avdtp

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

// Client runs AVDTP procedures against the peer of a signalling socket.
type Client struct {
	sock *Socket

	// Timeout of each command, zero for the socket default.
	Timeout time.Duration
}

func NewClient(sock *Socket) *Client {
	return &Client{sock: sock}
}

func (c *Client) Socket() *Socket { return c.sock }

func checkSEID(ids ...uint8) error {
	if len(ids) == 0 {
		return errors.Wrap(a2dp.ErrBadRequest, "no seid")
	}
	for _, id := range ids {
		if id == 0 || id > MaxEndpointID {
			return errors.Wrapf(a2dp.ErrBadRequest, "seid %v", id)
		}
	}
	return nil
}

func (c *Client) command(id SignalIdentifier, payload ...byte) (*Signal, error) {
	req := NewSignal()
	req.Set(0, id, Command)
	req.Payload = append(req.Payload, payload...)

	resp := NewSignal()
	if err := c.sock.Exchange(c.Timeout, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Discover lists the peer's endpoints.
func (c *Client) Discover() ([]EndpointInfo, error) {
	resp, err := c.command(SignalDiscover)
	if err != nil {
		return nil, err
	}
	return ParseDiscover(resp.Payload)
}

func (c *Client) capabilities(id SignalIdentifier, seid uint8) (Capabilities, error) {
	if err := checkSEID(seid); err != nil {
		return nil, err
	}
	resp, err := c.command(id, seid<<2)
	if err != nil {
		return nil, err
	}
	caps, perr := ParseCapabilities(resp.Payload, nil, BadServCategory)
	if perr != nil {
		return nil, errors.Wrapf(perr, "%v response", id)
	}
	return caps, nil
}

// GetCapabilities returns the basic capabilities of a remote endpoint.
func (c *Client) GetCapabilities(seid uint8) (Capabilities, error) {
	return c.capabilities(SignalGetCapabilities, seid)
}

// GetAllCapabilities also returns the categories added after AVDTP 1.0.
func (c *Client) GetAllCapabilities(seid uint8) (Capabilities, error) {
	return c.capabilities(SignalGetAllCapabilities, seid)
}

// SetConfiguration configures remote endpoint acp for use with endpoint local.
func (c *Client) SetConfiguration(acp, local uint8, cfg Capabilities) error {
	if err := checkSEID(acp, local); err != nil {
		return err
	}
	_, err := c.command(SignalSetConfiguration, append([]byte{acp << 2, local << 2}, cfg.Serialize(nil)...)...)
	return err
}

func (c *Client) GetConfiguration(seid uint8) (Capabilities, error) {
	return c.capabilities(SignalGetConfiguration, seid)
}

// Reconfigure changes the application categories of an opened stream.
func (c *Client) Reconfigure(acp uint8, cfg Capabilities) error {
	if err := checkSEID(acp); err != nil {
		return err
	}
	_, err := c.command(SignalReconfigure, append([]byte{acp << 2}, cfg.Serialize(nil)...)...)
	return err
}

func (c *Client) simple(id SignalIdentifier, seids ...uint8) error {
	if err := checkSEID(seids...); err != nil {
		return err
	}
	payload := make([]byte, len(seids))
	for i, s := range seids {
		payload[i] = s << 2
	}
	_, err := c.command(id, payload...)
	return err
}

func (c *Client) Open(seid uint8) error { return c.simple(SignalOpen, seid) }

// Start starts streaming on one or more remote endpoints.
func (c *Client) Start(seids ...uint8) error { return c.simple(SignalStart, seids...) }

func (c *Client) Suspend(seids ...uint8) error { return c.simple(SignalSuspend, seids...) }

func (c *Client) Close(seid uint8) error { return c.simple(SignalClose, seid) }

func (c *Client) Abort(seid uint8) error { return c.simple(SignalAbort, seid) }

// DelayReport tells a source the sink's delay in 1/10 ms.
func (c *Client) DelayReport(seid uint8, delay uint16) error {
	if err := checkSEID(seid); err != nil {
		return err
	}
	var d [2]byte
	binary.BigEndian.PutUint16(d[:], delay)
	_, err := c.command(SignalDelayReport, seid<<2, d[0], d[1])
	return err
}
