package sdp

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// BaseUUID is the Bluetooth base UUID short forms are expanded on.
var BaseUUID = uuid.Must(uuid.FromString("00000000-0000-1000-8000-00805f9b34fb"))

// UUID is a Bluetooth UUID. Short forms compare equal to their 128-bit expansion.
type UUID struct {
	value uuid.UUID
	size  int // preferred wire width: 2, 4 or 16
}

func NewUUID16(v uint16) UUID { return NewUUID32(uint32(v)).withSize(2) }

func NewUUID32(v uint32) UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return UUID{value: u, size: 4}
}

// NewUUID128 wraps a full UUID given in big endian octet order.
func NewUUID128(b []byte) (UUID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return UUID{}, err
	}
	return UUID{value: u, size: 16}, nil
}

// ParseUUID accepts "110a", "0000110a" or a canonical 128-bit string.
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return UUID{}, err
		}
		return NewUUID16(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return UUID{}, err
		}
		return NewUUID32(uint32(v)), nil
	}

	u, err := uuid.FromString(s)
	if err != nil {
		return UUID{}, errors.Wrapf(err, "invalid uuid %q", s)
	}
	return UUID{value: u, size: 16}.compact(), nil
}

// MustParseUUID is like ParseUUID but panics on error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u UUID) withSize(n int) UUID {
	u.size = n
	return u
}

// compact picks the shortest width a base UUID derived value fits in.
func (u UUID) compact() UUID {
	if !u.onBase() {
		return u
	}
	if binary.BigEndian.Uint16(u.value[0:2]) == 0 {
		return u.withSize(2)
	}
	return u.withSize(4)
}

func (u UUID) onBase() bool {
	for i := 4; i < 16; i++ {
		if u.value[i] != BaseUUID[i] {
			return false
		}
	}
	return true
}

// Size is the number of octets the UUID is encoded with.
func (u UUID) Size() int {
	if u.size == 0 {
		return 16
	}
	return u.size
}

func (u UUID) IsZero() bool { return u.value == uuid.Nil }

func (u UUID) Equal(o UUID) bool { return uuid.Equal(u.value, o.value) }

// Short returns the 32-bit alias if the UUID derives from the base UUID.
func (u UUID) Short() (uint32, bool) {
	if !u.onBase() {
		return 0, false
	}
	return binary.BigEndian.Uint32(u.value[0:4]), true
}

// Bytes returns the UUID in its preferred wire width, big endian.
func (u UUID) Bytes() []byte {
	switch u.Size() {
	case 2:
		return append([]byte{}, u.value[2:4]...)
	case 4:
		return append([]byte{}, u.value[0:4]...)
	default:
		return append([]byte{}, u.value[:]...)
	}
}

func (u UUID) String() string {
	switch u.Size() {
	case 2:
		return fmt.Sprintf("%04x", binary.BigEndian.Uint16(u.value[2:4]))
	case 4:
		return fmt.Sprintf("%08x", binary.BigEndian.Uint32(u.value[0:4]))
	default:
		return u.value.String()
	}
}

// MarshalText lets UUIDs be used in JSON and YAML output.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(b []byte) error {
	v, err := ParseUUID(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
