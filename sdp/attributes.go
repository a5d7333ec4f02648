package sdp

// Universal attribute ids [Vol 3, Part B, 5.1].
const (
	AttrServiceRecordHandle         uint16 = 0x0000
	AttrServiceClassIDList          uint16 = 0x0001
	AttrServiceRecordState          uint16 = 0x0002
	AttrServiceID                   uint16 = 0x0003
	AttrProtocolDescriptorList      uint16 = 0x0004
	AttrBrowseGroupList             uint16 = 0x0005
	AttrLanguageBaseAttributeIDList uint16 = 0x0006
	AttrServiceInfoTimeToLive       uint16 = 0x0007
	AttrServiceAvailability         uint16 = 0x0008
	AttrProfileDescriptorList       uint16 = 0x0009
	AttrDocumentationURL            uint16 = 0x000A
	AttrClientExecutableURL         uint16 = 0x000B
	AttrIconURL                     uint16 = 0x000C

	lastUniversal = AttrIconURL
)

// Offsets from a language base attribute id.
const (
	AttrOffsetServiceName        uint16 = 0x0000
	AttrOffsetServiceDescription uint16 = 0x0001
	AttrOffsetProviderName       uint16 = 0x0002
)

// DefaultLanguageBase is the primary language base id.
const DefaultLanguageBase uint16 = 0x0100

// AttrSupportedFeatures is the A2DP SupportedFeatures attribute.
const AttrSupportedFeatures uint16 = 0x0311

// Universal reports whether id is in the universal attribute range.
func Universal(id uint16) bool { return id <= lastUniversal }

// typedAttribute is a universal attribute with a structured representation.
type typedAttribute interface {
	serialize(p *Payload)
	deserialize(p *Payload) bool
}

// ServiceClassIDList is attribute 0x0001.
type ServiceClassIDList struct {
	Classes []UUID
}

func (l *ServiceClassIDList) Add(u UUID) *ServiceClassIDList {
	l.Classes = append(l.Classes, u)
	return l
}

func (l *ServiceClassIDList) serialize(p *Payload) {
	p.PushSequence(true, func(s *Payload) {
		for _, u := range l.Classes {
			s.PushUUID(true, u)
		}
	})
}

func (l *ServiceClassIDList) deserialize(p *Payload) bool {
	l.Classes = nil
	return popUUIDs(p, &l.Classes)
}

// BrowseGroupList is attribute 0x0005.
type BrowseGroupList struct {
	Groups []UUID
}

func (l *BrowseGroupList) Add(u UUID) *BrowseGroupList {
	l.Groups = append(l.Groups, u)
	return l
}

func (l *BrowseGroupList) serialize(p *Payload) {
	p.PushSequence(true, func(s *Payload) {
		for _, u := range l.Groups {
			s.PushUUID(true, u)
		}
	})
}

func (l *BrowseGroupList) deserialize(p *Payload) bool {
	l.Groups = nil
	return popUUIDs(p, &l.Groups)
}

func popUUIDs(p *Payload, out *[]UUID) bool {
	valid := true
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 {
			u, ok := s.PopUUID(true)
			if !ok {
				valid = false
				continue
			}
			*out = append(*out, u)
		}
	})
	return ok && valid
}

// ProtocolDescriptor is one protocol layer, its UUID followed by the
// protocol specific parameter elements (already encoded).
type ProtocolDescriptor struct {
	Protocol   UUID
	Parameters []byte
}

// ProtocolDescriptorList is attribute 0x0004.
type ProtocolDescriptorList struct {
	Protocols []ProtocolDescriptor
}

// Add appends a protocol layer whose parameters are 16-bit unsigned integers,
// the form both L2CAP (PSM) and AVDTP (version) use.
func (l *ProtocolDescriptorList) Add(u UUID, params ...uint16) *ProtocolDescriptorList {
	var raw []byte
	if len(params) > 0 {
		p := NewPayload(make([]byte, 3*len(params)))
		for _, v := range params {
			p.PushUint16(true, v)
		}
		raw = p.Data()
	}
	l.Protocols = append(l.Protocols, ProtocolDescriptor{Protocol: u, Parameters: raw})
	return l
}

// Find returns the descriptor for protocol u.
func (l *ProtocolDescriptorList) Find(u UUID) (ProtocolDescriptor, bool) {
	for _, d := range l.Protocols {
		if d.Protocol.Equal(u) {
			return d, true
		}
	}
	return ProtocolDescriptor{}, false
}

// Uint16Parameter decodes the i-th parameter as a 16-bit unsigned integer.
func (d ProtocolDescriptor) Uint16Parameter(i int) (uint16, bool) {
	p := WrapPayload(d.Parameters)
	for j := 0; j < i; j++ {
		if _, ok := p.PopRawElement(); !ok {
			return 0, false
		}
	}
	return p.PopUint16(true)
}

func (l *ProtocolDescriptorList) serialize(p *Payload) {
	p.PushSequence(true, func(s *Payload) {
		for _, d := range l.Protocols {
			d := d
			s.PushSequence(true, func(e *Payload) {
				e.PushUUID(true, d.Protocol)
				e.PushRaw(d.Parameters)
			})
		}
	})
}

func (l *ProtocolDescriptorList) deserialize(p *Payload) bool {
	l.Protocols = nil
	valid := true
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 {
			ok := s.PopSequence(true, func(e *Payload) {
				u, ok := e.PopUUID(true)
				if !ok {
					valid = false
					return
				}
				l.Protocols = append(l.Protocols, ProtocolDescriptor{Protocol: u, Parameters: e.Pop(e.Available())})
			})
			if !ok {
				valid = false
			}
		}
	})
	return ok && valid
}

// LanguageBase is one triplet of attribute 0x0006.
type LanguageBase struct {
	Language uint16 // ISO 639 code, e.g. 0x656e "en"
	Encoding uint16 // IANA MIBenum, 106 is UTF-8
	Base     uint16
}

// LanguageBaseAttributeIDList is attribute 0x0006.
type LanguageBaseAttributeIDList struct {
	Languages []LanguageBase
}

func (l *LanguageBaseAttributeIDList) Add(lang, encoding, base uint16) *LanguageBaseAttributeIDList {
	l.Languages = append(l.Languages, LanguageBase{lang, encoding, base})
	return l
}

func (l *LanguageBaseAttributeIDList) serialize(p *Payload) {
	p.PushSequence(true, func(s *Payload) {
		for _, b := range l.Languages {
			s.PushUint16(true, b.Language)
			s.PushUint16(true, b.Encoding)
			s.PushUint16(true, b.Base)
		}
	})
}

func (l *LanguageBaseAttributeIDList) deserialize(p *Payload) bool {
	l.Languages = nil
	valid := true
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 {
			lang, ok1 := s.PopUint16(true)
			enc, ok2 := s.PopUint16(true)
			base, ok3 := s.PopUint16(true)
			if !ok1 || !ok2 || !ok3 {
				valid = false
				return
			}
			l.Languages = append(l.Languages, LanguageBase{lang, enc, base})
		}
	})
	return ok && valid
}

// ProfileDescriptor names a profile and the version implemented.
type ProfileDescriptor struct {
	Profile UUID
	Version uint16
}

// ProfileDescriptorList is attribute 0x0009.
type ProfileDescriptorList struct {
	Profiles []ProfileDescriptor
}

func (l *ProfileDescriptorList) Add(u UUID, version uint16) *ProfileDescriptorList {
	l.Profiles = append(l.Profiles, ProfileDescriptor{u, version})
	return l
}

func (l *ProfileDescriptorList) serialize(p *Payload) {
	p.PushSequence(true, func(s *Payload) {
		for _, d := range l.Profiles {
			d := d
			s.PushSequence(true, func(e *Payload) {
				e.PushUUID(true, d.Profile)
				e.PushUint16(true, d.Version)
			})
		}
	})
}

func (l *ProfileDescriptorList) deserialize(p *Payload) bool {
	l.Profiles = nil
	valid := true
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 {
			ok := s.PopSequence(true, func(e *Payload) {
				u, ok1 := e.PopUUID(true)
				v, ok2 := e.PopUint16(true)
				if !ok1 || !ok2 {
					valid = false
					return
				}
				l.Profiles = append(l.Profiles, ProfileDescriptor{u, v})
			})
			if !ok {
				valid = false
			}
		}
	})
	return ok && valid
}
