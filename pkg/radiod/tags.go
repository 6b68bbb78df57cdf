package radiod

import "github.com/cwsl/radiodctl/pkg/radiod/tlv"

// Wire tag numbers from radiod's status.h enum status_type. Names
// mirror the daemon's own field names.
const (
	tagEOL                  = tlv.EOL
	tagCommandTag      byte = 1
	tagOutputDestSocket byte = 17
	tagOutputSSRC      byte = 18
	tagOutputSampRate  byte = 20
	tagRadioFrequency  byte = 33
	tagLowEdge         byte = 39
	tagHighEdge        byte = 40
	tagBasebandPower   byte = 46
	tagNoiseDensity    byte = 47
	tagDemodType       byte = 48
	tagAGCEnable       byte = 62
	tagGain            byte = 68
	tagPreset          byte = 85
	tagSquelchOpen     byte = 83
	tagSquelchClose    byte = 84
	tagSNRSquelch      byte = 92
	tagNoncoherentBinBW byte = 93
	tagBinCount        byte = 94
	tagRFAtten         byte = 97
	tagRFGain          byte = 98
	tagRFAGC           byte = 99
	tagStatusInterval  byte = 106
	tagOutputEncoding  byte = 107
)

// DemodType mirrors radiod's demodulator-type enum.
type DemodType uint32

const (
	DemodLinear    DemodType = 0
	DemodFM        DemodType = 1
	DemodWFM       DemodType = 2
	DemodSpectrum  DemodType = 3
)

// OutputEncoding mirrors radiod's output sample encoding enum.
type OutputEncoding uint32

const (
	EncodingNone  OutputEncoding = 0
	EncodingS16BE OutputEncoding = 1
	EncodingS16LE OutputEncoding = 2
	EncodingF32   OutputEncoding = 3
	EncodingF16   OutputEncoding = 4
	EncodingOpus  OutputEncoding = 5
)

func (e OutputEncoding) String() string {
	switch e {
	case EncodingNone:
		return "none"
	case EncodingS16BE:
		return "s16be"
	case EncodingS16LE:
		return "s16le"
	case EncodingF32:
		return "f32"
	case EncodingF16:
		return "f16"
	case EncodingOpus:
		return "opus"
	default:
		return "unknown"
	}
}
