package a2dp

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Addr represents a Bluetooth device address.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

type addr string

func (a addr) String() string {
	return string(a)
}

// Bytes returns the address in display order, most significant octet first.
func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Warnf("error decoding address %v: %v", a.String(), err)
	}

	return out
}

// ParseAddr validates a colon separated 6 octet address.
func ParseAddr(s string) (Addr, error) {
	a := NewAddr(s)
	if b := a.Bytes(); len(b) != 6 {
		return nil, errors.Errorf("invalid bluetooth address %q", s)
	}
	return a, nil
}
