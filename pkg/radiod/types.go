package radiod

import (
	"net"
	"time"
)

// TuneOptions enumerates the fields Tune (and the Controller's
// individual setters) may carry. Absent fields (nil pointers) are
// simply not transmitted.
type TuneOptions struct {
	FrequencyHz    *float64
	Preset         string
	SampleRate     *uint32
	LowEdgeHz      *float32
	HighEdgeHz     *float32
	GainDB         *float32
	AGCEnable      *bool
	RFGainDB       *float32
	RFAttenDB      *float32
	RFAGCEnable    *bool
	Encoding       *OutputEncoding
	Destination    *net.UDPAddr
	Timeout        time.Duration
}

// StatusRecord is the decoded reply Tune correlates and returns: the
// subset of status fields needed to confirm a channel's configuration,
// plus a derived SNR.
type StatusRecord struct {
	SSRC           uint32
	CommandTag     uint32
	FrequencyHz    float64
	Preset         string
	SampleRate     uint32
	LowEdgeHz      float32
	HighEdgeHz     float32
	BasebandPowerDB *float32
	NoiseDensityDB  *float32
	DemodType      DemodType
	Encoding       OutputEncoding
	Destination    *net.UDPAddr
	// SNRDB is omitted (nil) when baseband power or noise density is
	// missing, or the channel bandwidth is non-positive.
	SNRDB *float64
}

// ChannelInfo is the discovery record: a subset of decoded status
// fields describing one observed channel.
type ChannelInfo struct {
	SSRC        uint32
	FrequencyHz float64
	Preset      string
	SampleRate  uint32
	Encoding    OutputEncoding
	Destination *net.UDPAddr
	SNRDB       *float64
	LastSeen    time.Time
}
