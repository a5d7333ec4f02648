package sdp

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// FirstServiceHandle is the first handle assigned automatically. Handle 0 is
// reserved for the SDP server's own record.
const FirstServiceHandle uint32 = 0x00010000

// Service is one service record.
type Service struct {
	handle uint32

	classes   *ServiceClassIDList
	protocols *ProtocolDescriptorList
	browse    *BrowseGroupList
	languages *LanguageBaseAttributeIDList
	profiles  *ProfileDescriptorList

	// every other attribute, encoded, ordered by id
	ids    []uint16
	custom map[uint16][]byte
}

// NewService returns an empty record with the given handle.
func NewService(handle uint32) *Service {
	return &Service{handle: handle, custom: make(map[uint16][]byte)}
}

func (s *Service) Handle() uint32 { return s.handle }

func (s *Service) ServiceClassIDList() *ServiceClassIDList {
	if s.classes == nil {
		s.classes = &ServiceClassIDList{}
	}
	return s.classes
}

func (s *Service) ProtocolDescriptorList() *ProtocolDescriptorList {
	if s.protocols == nil {
		s.protocols = &ProtocolDescriptorList{}
	}
	return s.protocols
}

func (s *Service) BrowseGroupList() *BrowseGroupList {
	if s.browse == nil {
		s.browse = &BrowseGroupList{}
	}
	return s.browse
}

func (s *Service) LanguageBaseAttributeIDList() *LanguageBaseAttributeIDList {
	if s.languages == nil {
		s.languages = &LanguageBaseAttributeIDList{}
	}
	return s.languages
}

func (s *Service) ProfileDescriptorList() *ProfileDescriptorList {
	if s.profiles == nil {
		s.profiles = &ProfileDescriptorList{}
	}
	return s.profiles
}

// typed returns the structured slot for id, allocating it when create is set.
func (s *Service) typed(id uint16, create bool) typedAttribute {
	switch id {
	case AttrServiceClassIDList:
		if s.classes != nil || create {
			return s.ServiceClassIDList()
		}
	case AttrProtocolDescriptorList:
		if s.protocols != nil || create {
			return s.ProtocolDescriptorList()
		}
	case AttrBrowseGroupList:
		if s.browse != nil || create {
			return s.BrowseGroupList()
		}
	case AttrLanguageBaseAttributeIDList:
		if s.languages != nil || create {
			return s.LanguageBaseAttributeIDList()
		}
	case AttrProfileDescriptorList:
		if s.profiles != nil || create {
			return s.ProfileDescriptorList()
		}
	}
	return nil
}

func isTyped(id uint16) bool {
	switch id {
	case AttrServiceRecordHandle, AttrServiceClassIDList, AttrProtocolDescriptorList,
		AttrBrowseGroupList, AttrLanguageBaseAttributeIDList, AttrProfileDescriptorList:
		return true
	}
	return false
}

// Has reports whether the record carries attribute id.
func (s *Service) Has(id uint16) bool {
	if id == AttrServiceRecordHandle {
		return true
	}
	if isTyped(id) {
		return s.typed(id, false) != nil
	}
	_, ok := s.custom[id]
	return ok
}

// IDs returns all attribute ids present, ascending.
func (s *Service) IDs() []uint16 {
	out := []uint16{AttrServiceRecordHandle}
	for _, id := range []uint16{AttrServiceClassIDList, AttrProtocolDescriptorList,
		AttrBrowseGroupList, AttrLanguageBaseAttributeIDList, AttrProfileDescriptorList} {
		if s.typed(id, false) != nil {
			out = append(out, id)
		}
	}
	out = append(out, s.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Attribute returns the encoded value of attribute id.
func (s *Service) Attribute(id uint16) ([]byte, bool) {
	if id == AttrServiceRecordHandle {
		p := NewPayload(make([]byte, 5))
		p.PushUint32(true, s.handle)
		return p.Data(), true
	}
	if isTyped(id) {
		a := s.typed(id, false)
		if a == nil {
			return nil, false
		}
		return encode(a.serialize), true
	}
	v, ok := s.custom[id]
	return v, ok
}

// maxAttributeSize bounds one encoded attribute value.
const maxAttributeSize = 0xffff

var encodePool = sync.Pool{
	New: func() interface{} {
		return make([]byte, maxAttributeSize)
	},
}

func encode(f func(*Payload)) []byte {
	buf := encodePool.Get().([]byte)
	defer encodePool.Put(buf)

	p := NewPayload(buf)
	f(p)
	out := make([]byte, p.Length())
	copy(out, p.Data())
	return out
}

// Set stores an encoded attribute value. Universal attributes with a structured
// form are decoded into their slot.
func (s *Service) Set(id uint16, raw []byte) error {
	if id == AttrServiceRecordHandle {
		h, ok := WrapPayload(raw).PopUint32(true)
		if !ok {
			return errors.Errorf("malformed service record handle % x", raw)
		}
		s.handle = h
		return nil
	}

	if isTyped(id) {
		p := WrapPayload(raw)
		if !s.typed(id, true).deserialize(p) || p.Available() != 0 {
			return errors.Errorf("malformed attribute 0x%04x: % x", id, raw)
		}
		return nil
	}

	if _, ok := s.custom[id]; !ok {
		i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
		s.ids = append(s.ids, 0)
		copy(s.ids[i+1:], s.ids[i:])
		s.ids[i] = id
	}
	v := make([]byte, len(raw))
	copy(v, raw)
	s.custom[id] = v
	return nil
}

// SetElement encodes an attribute value with build and stores it.
func (s *Service) SetElement(id uint16, build func(*Payload)) error {
	return s.Set(id, encode(build))
}

// Remove drops a free form attribute.
func (s *Service) Remove(id uint16) {
	if _, ok := s.custom[id]; !ok {
		return
	}
	delete(s.custom, id)
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
}

func (s *Service) languageBase() uint16 {
	if s.languages != nil && len(s.languages.Languages) > 0 {
		return s.languages.Languages[0].Base
	}
	return DefaultLanguageBase
}

func (s *Service) text(offset uint16) string {
	raw, ok := s.custom[s.languageBase()+offset]
	if !ok {
		return ""
	}
	v, _ := WrapPayload(raw).PopText(true)
	return v
}

func (s *Service) setText(offset uint16, v string) {
	_ = s.SetElement(s.languageBase()+offset, func(p *Payload) { p.PushText(true, v) })
}

func (s *Service) Name() string { return s.text(AttrOffsetServiceName) }
func (s *Service) Description() string { return s.text(AttrOffsetServiceDescription) }
func (s *Service) Provider() string { return s.text(AttrOffsetProviderName) }
func (s *Service) SetName(v string) { s.setText(AttrOffsetServiceName, v) }
func (s *Service) SetDescription(v string) { s.setText(AttrOffsetServiceDescription, v) }
func (s *Service) SetProvider(v string) { s.setText(AttrOffsetProviderName, v) }

// Search reports whether u appears in any of the structured attributes.
func (s *Service) Search(u UUID) bool {
	if s.classes != nil {
		for _, c := range s.classes.Classes {
			if c.Equal(u) {
				return true
			}
		}
	}
	if s.protocols != nil {
		if _, ok := s.protocols.Find(u); ok {
			return true
		}
	}
	if s.browse != nil {
		for _, g := range s.browse.Groups {
			if g.Equal(u) {
				return true
			}
		}
	}
	if s.profiles != nil {
		for _, p := range s.profiles.Profiles {
			if p.Profile.Equal(u) {
				return true
			}
		}
	}
	return false
}

// Matches reports whether every uuid of the pattern is present.
func (s *Service) Matches(pattern []UUID) bool {
	for _, u := range pattern {
		if !s.Search(u) {
			return false
		}
	}
	return true
}

// Tree is an ordered collection of service records with unique handles.
type Tree struct {
	sync.RWMutex
	services []*Service
	next     uint32
}

func NewTree() *Tree {
	return &Tree{next: FirstServiceHandle}
}

// Add creates a record. Handle 0 picks the next free handle.
func (t *Tree) Add(handle uint32) (*Service, error) {
	if t.next == 0 {
		t.next = FirstServiceHandle
	}
	if handle == 0 {
		for t.Find(t.next) != nil {
			t.next++
		}
		handle = t.next
		t.next++
	} else if t.Find(handle) != nil {
		return nil, errors.Errorf("service handle 0x%08x already in use", handle)
	}

	s := NewService(handle)
	t.services = append(t.services, s)
	return s, nil
}

// Insert adds an existing record, typically one received from a peer.
func (t *Tree) Insert(s *Service) error {
	if t.Find(s.handle) != nil {
		return errors.Errorf("service handle 0x%08x already in use", s.handle)
	}
	t.services = append(t.services, s)
	return nil
}

func (t *Tree) Find(handle uint32) *Service {
	for _, s := range t.services {
		if s.handle == handle {
			return s
		}
	}
	return nil
}

func (t *Tree) Remove(handle uint32) bool {
	for i, s := range t.services {
		if s.handle == handle {
			t.services = append(t.services[:i], t.services[i+1:]...)
			return true
		}
	}
	return false
}

// Services returns the records in insertion order.
func (t *Tree) Services() []*Service {
	return t.services
}

// Search returns the records matching every uuid of the pattern.
func (t *Tree) Search(pattern []UUID) []*Service {
	var out []*Service
	for _, s := range t.services {
		if s.Matches(pattern) {
			out = append(out, s)
		}
	}
	return out
}

// WithServiceTree runs f with the tree read locked. It makes *Tree a ServiceRepository.
func (t *Tree) WithServiceTree(f func(*Tree)) {
	t.RLock()
	defer t.RUnlock()
	f(t)
}
