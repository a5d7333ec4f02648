package sdp

// Assigned numbers used by the A2DP records.
var (
	ProtocolSDP   = NewUUID16(0x0001)
	ProtocolL2CAP = NewUUID16(0x0100)
	ProtocolAVDTP = NewUUID16(0x0019)
	ProtocolAVCTP = NewUUID16(0x0017)

	ClassServiceDiscoveryServer    = NewUUID16(0x1000)
	ClassBrowseGroupDescriptor     = NewUUID16(0x1001)
	ClassPublicBrowseRoot          = NewUUID16(0x1002)
	ClassAudioSource               = NewUUID16(0x110A)
	ClassAudioSink                 = NewUUID16(0x110B)
	ClassAdvancedAudioDistribution = NewUUID16(0x110D)
)
