package avdtp

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// State of a stream endpoint.
type State uint8

const (
	StateIdle State = iota
	StateConfigured
	StateOpened
	StateStarted
	StateClosing
	StateAborting
)

var stateNames = []string{"idle", "configured", "opened", "started", "closing", "aborting"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ServiceType is the TSEP of an endpoint.
type ServiceType uint8

const (
	Source ServiceType = 0
	Sink   ServiceType = 1
)

func (t ServiceType) String() string {
	if t == Sink {
		return "sink"
	}
	return "source"
}

// MediaType of an endpoint.
type MediaType uint8

const (
	Audio      MediaType = 0
	Video      MediaType = 1
	Multimedia MediaType = 2
)

func (m MediaType) String() string {
	switch m {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Multimedia:
		return "multimedia"
	}
	return fmt.Sprintf("media(%d)", uint8(m))
}

// Category is a service capability category.
type Category uint8

const (
	MediaTransport    Category = 1
	Reporting         Category = 2
	Recovery          Category = 3
	ContentProtection Category = 4
	HeaderCompression Category = 5
	Multiplexing      Category = 6
	MediaCodec        Category = 7
	DelayReporting    Category = 8
)

var categoryNames = []string{
	"invalid",
	"media transport",
	"reporting",
	"recovery",
	"content protection",
	"header compression",
	"multiplexing",
	"media codec",
	"delay reporting",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c is a defined category.
func (c Category) Valid() bool { return c >= MediaTransport && c <= DelayReporting }

// Basic reports whether c is returned by GET_CAPABILITIES.
func (c Category) Basic() bool { return c.Valid() && c != DelayReporting }

// Application reports whether c may change with RECONFIGURE.
func (c Category) Application() bool {
	return c == MediaCodec || c == ContentProtection || c == DelayReporting
}

// ErrorCode is the category specific format error of c.
func (c Category) ErrorCode() ErrorCode {
	switch c {
	case MediaTransport:
		return BadMediaTransportFormat
	case Recovery:
		return BadRecoveryFormat
	case ContentProtection:
		return BadCPFormat
	case HeaderCompression:
		return BadROHCFormat
	case Multiplexing:
		return BadMultiplexingFormat
	case MediaCodec:
		return UnsupportedConfiguration
	}
	return BadServCategory
}

// Capabilities maps a category to its raw parameter octets.
type Capabilities map[Category][]byte

// Serialize writes category:length:data triplets in category order,
// keeping the categories filter accepts. A nil filter keeps everything.
func (c Capabilities) Serialize(filter func(Category) bool) []byte {
	cats := make([]int, 0, len(c))
	for cat := range c {
		if filter == nil || filter(cat) {
			cats = append(cats, int(cat))
		}
	}
	sort.Ints(cats)

	var out []byte
	for _, cat := range cats {
		v := c[Category(cat)]
		out = append(out, uint8(cat), uint8(len(v)))
		out = append(out, v...)
	}
	return out
}

// Clone returns a deep copy.
func (c Capabilities) Clone() Capabilities {
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = append([]byte{}, v...)
	}
	return out
}

// ParseError reports the first triplet ParseCapabilities rejected.
type ParseError struct {
	Code     ErrorCode
	Category Category
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v in %v", e.Code, e.Category)
}

// ParseCapabilities reads category:length:data triplets. Each category must
// satisfy valid; the first one that does not fails with code.
// A triplet running past the end fails with BadPayloadFormat.
func ParseCapabilities(b []byte, valid func(Category) bool, code ErrorCode) (Capabilities, *ParseError) {
	caps := make(Capabilities)
	for len(b) > 0 {
		cat := Category(b[0])
		if !cat.Valid() {
			return nil, &ParseError{BadServCategory, cat}
		}
		if valid != nil && !valid(cat) {
			return nil, &ParseError{code, cat}
		}
		if len(b) < 2 || int(b[1]) > len(b)-2 {
			return nil, &ParseError{BadPayloadFormat, cat}
		}
		n := int(b[1])
		caps[cat] = append([]byte{}, b[2:2+n]...)
		b = b[2+n:]
	}
	return caps, nil
}

// StreamEndPoint is the data every endpoint exposes to the protocol.
type StreamEndPoint struct {
	ID            uint8
	RemoteID      uint8
	State         State
	ServiceType   ServiceType
	MediaType     MediaType
	Capabilities  Capabilities
	Configuration Capabilities
}

// InUse reports whether the endpoint is configured.
func (s *StreamEndPoint) InUse() bool { return s.State != StateIdle }

// EndpointInfo is one entry of a DISCOVER response.
type EndpointInfo struct {
	ID          uint8       `json:"id" yaml:"id"`
	InUse       bool        `json:"in_use" yaml:"in_use"`
	MediaType   MediaType   `json:"media_type" yaml:"media_type"`
	ServiceType ServiceType `json:"service_type" yaml:"service_type"`
}

const discoverEntrySize = 2

func (i EndpointInfo) serialize() [discoverEntrySize]byte {
	b0 := i.ID << 2
	if i.InUse {
		b0 |= 0x02
	}
	return [discoverEntrySize]byte{b0, uint8(i.MediaType)<<4 | uint8(i.ServiceType)<<3}
}

// ParseDiscover decodes a DISCOVER accept payload.
func ParseDiscover(b []byte) ([]EndpointInfo, error) {
	if len(b)%discoverEntrySize != 0 {
		return nil, errors.Errorf("discover payload of %v bytes", len(b))
	}
	var out []EndpointInfo
	for ; len(b) > 0; b = b[discoverEntrySize:] {
		out = append(out, EndpointInfo{
			ID:          b[0] >> 2,
			InUse:       b[0]&0x02 != 0,
			MediaType:   MediaType(b[1] >> 4),
			ServiceType: ServiceType(b[1] >> 3 & 0x01),
		})
	}
	return out, nil
}

// Info is the DISCOVER entry for this endpoint.
func (s *StreamEndPoint) Info() EndpointInfo {
	return EndpointInfo{ID: s.ID, InUse: s.InUse(), MediaType: s.MediaType, ServiceType: s.ServiceType}
}

// Endpoint is a local stream endpoint driven by the Server. Each hook returns
// nil or one of the a2dp result codes.
type Endpoint interface {
	// WithData runs f on the endpoint data under the endpoint's lock. f must
	// not call back into the endpoint.
	WithData(f func(d *StreamEndPoint))

	OnSetConfiguration(cfg Capabilities, remoteID uint8) error
	OnReconfigure(cfg Capabilities) error
	OnOpen() error
	OnClose() error
	OnStart() error
	OnSuspend() error
	OnAbort() error
	OnDelayReport(delay uint16) error
}

// EndpointRepository gives the Server access to the local endpoints.
type EndpointRepository interface {
	Find(id uint8) Endpoint
	Visit(f func(e Endpoint))
}

// MaxEndpointID is the largest seid the wire encoding can carry.
const MaxEndpointID = 0x3f

// Endpoints is a slice backed EndpointRepository assigning ids 1..N.
type Endpoints struct {
	mu   sync.RWMutex
	list []Endpoint
}

// Add assigns the next id to e.
func (r *Endpoints) Add(e Endpoint) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.list) >= MaxEndpointID {
		return 0, errors.Errorf("no endpoint id left")
	}
	id := uint8(len(r.list) + 1)
	e.WithData(func(d *StreamEndPoint) { d.ID = id })
	r.list = append(r.list, e)
	return id, nil
}

func (r *Endpoints) Find(id uint8) Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == 0 || int(id) > len(r.list) {
		return nil
	}
	return r.list[id-1]
}

func (r *Endpoints) Visit(f func(e Endpoint)) {
	r.mu.RLock()
	list := append([]Endpoint{}, r.list...)
	r.mu.RUnlock()

	for _, e := range list {
		f(e)
	}
}

func (r *Endpoints) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}
