package sdp

import (
	"fmt"
	"strings"
)

// Element is a decoded data element of any type.
type Element struct {
	Type     ElementType `yaml:"type" json:"type"`
	Size     int         `yaml:"size" json:"size"`
	Value    interface{} `yaml:"value,omitempty" json:"value,omitempty"`
	Children []Element   `yaml:"children,omitempty" json:"children,omitempty"`
}

// PopElement decodes the next element, descending into sequences and alternatives.
func (p *Payload) PopElement() (Element, bool) {
	start := p.Reader()
	t, size, ok := p.PopDescriptor()
	if !ok {
		return Element{}, false
	}
	e := Element{Type: t, Size: size}

	switch t {
	case Nil:
		return e, true

	case Uint, Int, Bool:
		if size > 8 {
			// 128-bit integers are kept as raw octets
			e.Value = p.Pop(size)
			return e, e.Value != nil
		}
		p.Seek(start)
		var v uint64
		switch t {
		case Bool:
			b, ok := p.PopBool(true)
			e.Value = b
			return e, ok
		default:
			v, ok = p.popUnsigned(true, t, size)
		}
		if t == Int {
			e.Value = signExtend(v, size)
		} else {
			e.Value = v
		}
		return e, ok

	case UUIDType:
		p.Seek(start)
		u, ok := p.PopUUID(true)
		e.Value = u
		return e, ok

	case Text, URL:
		b := p.Pop(size)
		e.Value = string(b)
		return e, b != nil

	case Sequence, Alternative:
		p.Seek(start)
		complete := true
		ok := p.popContainer(t, true, func(sub *Payload) {
			for sub.Available() > 0 {
				c, ok := sub.PopElement()
				if !ok {
					complete = false
					return
				}
				e.Children = append(e.Children, c)
			}
		})
		return e, ok && complete

	default:
		logger.Warnf("unknown element type 0x%02x, skipping %v bytes", uint8(t), size)
		p.Skip(size)
		return e, false
	}
}

func signExtend(v uint64, size int) int64 {
	shift := uint(64 - size*8)
	return int64(v<<shift) >> shift
}

func (e Element) String() string {
	switch e.Type {
	case Nil:
		return "nil"
	case Sequence, Alternative:
		parts := make([]string, 0, len(e.Children))
		for _, c := range e.Children {
			parts = append(parts, c.String())
		}
		return fmt.Sprintf("%v{%s}", e.Type, strings.Join(parts, ", "))
	case Text, URL:
		return fmt.Sprintf("%v(%q)", e.Type, e.Value)
	case Uint:
		return fmt.Sprintf("uint%d(0x%x)", e.Size*8, e.Value)
	default:
		return fmt.Sprintf("%v(%v)", e.Type, e.Value)
	}
}
