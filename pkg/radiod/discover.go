package radiod

import (
	"context"
	"net"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/mcast"
	"github.com/cwsl/radiodctl/pkg/radiod/tlv"
)

// discoverReadCap bounds a single read inside Discover's loop so the
// listen_duration deadline is honored even when no packets arrive.
const discoverReadCap = 500 * time.Millisecond

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// Interface, if non-nil, is used for the discovery socket's group
	// join; nil joins on INADDR_ANY.
	Interface *net.Interface
	Logger    Logger
}

// Discover opens its own status-listening socket (independent of any
// Controller's cached one) and accumulates one ChannelInfo per
// distinct SSRC observed in status packets from statusAddr's group
// over listenDuration, then releases the socket. It requires no
// Controller instance.
func Discover(ctx context.Context, statusAddr *net.UDPAddr, listenDuration time.Duration, opts DiscoverOptions) (map[uint32]*ChannelInfo, error) {
	log := opts.Logger
	if log == nil {
		log = NopLogger
	}

	conn, err := mcast.NewStatusSocket(statusAddr, mcast.StatusSocketOptions{Interface: opts.Interface})
	if err != nil {
		return nil, wrapErr(KindDiscovery, "open discovery socket", err)
	}
	defer conn.Close()

	channels := make(map[uint32]*ChannelInfo)
	deadline := time.Now().Add(listenDuration)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return channels, wrapErr(KindDiscovery, "discover: context canceled", ctx.Err())
		default:
		}

		remaining := time.Until(deadline)
		readTimeout := remaining
		if readTimeout > discoverReadCap {
			readTimeout = discoverReadCap
		}
		if readTimeout <= 0 {
			break
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		pkt := make([]byte, 2048)
		n, _, err := conn.ReadFromUDP(pkt)
		if err != nil {
			if isTimeoutErr(err) {
				continue
			}
			return channels, wrapErr(KindDiscovery, "read discovery socket", err)
		}

		info, ok := decodeChannelInfo(pkt[:n], log)
		if !ok {
			continue
		}
		if _, seen := channels[info.SSRC]; !seen {
			channels[info.SSRC] = info
		}
	}

	return channels, nil
}

// decodeChannelInfo decodes a status packet into a ChannelInfo. A
// packet lacking an SSRC, or one that fails to parse, is reported as
// ok=false so the caller can skip it and keep listening rather than
// aborting discovery over one stray malformed packet.
func decodeChannelInfo(pkt []byte, log Logger) (*ChannelInfo, bool) {
	if len(pkt) < 1 {
		return nil, false
	}
	records, err := tlv.Decode(pkt[1:])
	if err != nil {
		log.Printf("radiod: dropping malformed status packet during discovery: %v", err)
		return nil, false
	}

	info := &ChannelInfo{LastSeen: time.Now()}
	var gotSSRC bool
	var lowEdge, highEdge float32
	var basebandPower, noiseDensity *float32

	for _, r := range records {
		switch r.Tag {
		case tagOutputSSRC:
			info.SSRC = uint32(tlv.DecodeUint(r.Value, nopLog{log}))
			gotSSRC = true
		case tagRadioFrequency:
			info.FrequencyHz = tlv.DecodeFloat64(r.Value, nopLog{log})
		case tagPreset:
			info.Preset = tlv.DecodeString(r.Value)
		case tagOutputSampRate:
			info.SampleRate = uint32(tlv.DecodeUint(r.Value, nopLog{log}))
		case tagLowEdge:
			lowEdge = tlv.DecodeFloat32(r.Value, nopLog{log})
		case tagHighEdge:
			highEdge = tlv.DecodeFloat32(r.Value, nopLog{log})
		case tagBasebandPower:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			basebandPower = &v
		case tagNoiseDensity:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			noiseDensity = &v
		case tagOutputEncoding:
			info.Encoding = OutputEncoding(tlv.DecodeUint(r.Value, nopLog{log}))
		case tagOutputDestSocket:
			ip, port, err := tlv.DecodeSocket(r.Value)
			if err == nil {
				info.Destination = &net.UDPAddr{IP: ip, Port: int(port)}
			}
		}
	}

	if !gotSSRC {
		return nil, false
	}

	bw := channelBandwidthHz(&lowEdge, &highEdge, info.SampleRate)
	info.SNRDB = computeSNRDB(basebandPower, noiseDensity, bw)
	return info, true
}
