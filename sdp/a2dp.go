package sdp

import (
	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

// AudioRole selects the service class of an A2DP record.
type AudioRole int

const (
	AudioSourceRole AudioRole = iota
	AudioSinkRole
)

func (r AudioRole) String() string {
	if r == AudioSinkRole {
		return "sink"
	}
	return "source"
}

// Class is the service class UUID of the role.
func (r AudioRole) Class() UUID {
	if r == AudioSinkRole {
		return ClassAudioSink
	}
	return ClassAudioSource
}

// Versions advertised in A2DP records.
const (
	AVDTPVersion uint16 = 0x0103
	A2DPVersion  uint16 = 0x0103
)

// A2DP SupportedFeatures bits.
const (
	FeaturePlayer     uint16 = 1 << 0 // source
	FeatureMicrophone uint16 = 1 << 1
	FeatureTuner      uint16 = 1 << 2
	FeatureMixer      uint16 = 1 << 3

	FeatureHeadphone uint16 = 1 << 0 // sink
	FeatureSpeaker   uint16 = 1 << 1
	FeatureRecorder  uint16 = 1 << 2
	FeatureAmplifier uint16 = 1 << 3
)

// AddA2DPRecord adds an audio source or sink record to t with an automatically
// assigned handle.
func AddA2DPRecord(t *Tree, role AudioRole, name string, features uint16) (*Service, error) {
	return AddA2DPInfo(t, A2DPInfo{
		Role:         role,
		PSM:          a2dp.PSMAVDTP,
		AVDTPVersion: AVDTPVersion,
		A2DPVersion:  A2DPVersion,
		Features:     features,
		Name:         name,
	})
}

// AddA2DPInfo adds the record ParseA2DPRecord would read back as info.
func AddA2DPInfo(t *Tree, info A2DPInfo) (*Service, error) {
	svc, err := t.Add(0)
	if err != nil {
		return nil, err
	}

	svc.ServiceClassIDList().Add(info.Role.Class())
	svc.ProtocolDescriptorList().
		Add(ProtocolL2CAP, info.PSM).
		Add(ProtocolAVDTP, info.AVDTPVersion)
	svc.BrowseGroupList().Add(ClassPublicBrowseRoot)
	svc.LanguageBaseAttributeIDList().Add(0x656e, 106, DefaultLanguageBase)
	svc.ProfileDescriptorList().Add(ClassAdvancedAudioDistribution, info.A2DPVersion)
	if info.Name != "" {
		svc.SetName(info.Name)
	}
	features := info.Features
	if err := svc.SetElement(AttrSupportedFeatures, func(p *Payload) { p.PushUint16(true, features) }); err != nil {
		return nil, err
	}
	return svc, nil
}

// A2DPInfo is what a peer's A2DP record says about its AVDTP service.
type A2DPInfo struct {
	Role         AudioRole
	PSM          uint16
	AVDTPVersion uint16
	A2DPVersion  uint16
	Features     uint16
	Name         string
}

// ParseA2DPRecord extracts A2DPInfo from a discovered record.
func ParseA2DPRecord(svc *Service) (A2DPInfo, error) {
	info := A2DPInfo{Name: svc.Name(), PSM: a2dp.PSMAVDTP}

	switch {
	case svc.Search(ClassAudioSink):
		info.Role = AudioSinkRole
	case svc.Search(ClassAudioSource):
		info.Role = AudioSourceRole
	default:
		return info, errors.Errorf("record 0x%08x is not an audio source or sink", svc.Handle())
	}

	if svc.protocols != nil {
		if d, ok := svc.protocols.Find(ProtocolL2CAP); ok {
			if psm, ok := d.Uint16Parameter(0); ok {
				info.PSM = psm
			}
		}
		if d, ok := svc.protocols.Find(ProtocolAVDTP); ok {
			info.AVDTPVersion, _ = d.Uint16Parameter(0)
		}
	}
	if svc.profiles != nil {
		for _, p := range svc.profiles.Profiles {
			if p.Profile.Equal(ClassAdvancedAudioDistribution) {
				info.A2DPVersion = p.Version
			}
		}
	}
	if raw, ok := svc.Attribute(AttrSupportedFeatures); ok {
		info.Features, _ = WrapPayload(raw).PopUint16(true)
	}
	return info, nil
}
