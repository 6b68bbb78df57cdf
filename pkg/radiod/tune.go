package radiod

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/tlv"
)

// maxRetryInterval caps the tune retry backoff.
const maxRetryInterval = 1 * time.Second

// initialRetryInterval is tune's first retransmit interval, doubling
// up to maxRetryInterval on each subsequent attempt.
const initialRetryInterval = 100 * time.Millisecond

// adaptiveReadCap bounds a single status-socket read inside the tune
// loop so a slow/absent radiod cannot stall past the next retransmit
// or the overall deadline.
const adaptiveReadCap = 500 * time.Millisecond

// newCommandTag generates radiod's 31-bit correlation tag. The teacher
// uses uint32(time.Now().Unix()) for this field, which collides across
// concurrent callers and is trivially guessable; this package instead
// draws from crypto/rand for a collision-resistant tag (not for
// secrecy, radiod's protocol has no authentication, but for uniqueness
// under concurrent callers sharing one multicast group).
func newCommandTag() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]) & 0x7fffffff, nil
}

// Tune sends a command built from opts against ssrc, tagged with a
// fresh correlation tag, retrying with exponential backoff until a
// matching status reply (same SSRC and command tag) arrives or
// opts.Timeout elapses. It returns the decoded, SNR-annotated status
// record on success, or an ErrTimeout-classed error at the deadline.
func (c *Controller) Tune(ctx context.Context, ssrc uint32, opts TuneOptions) (*StatusRecord, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := tlv.ValidateSSRC(uint64(ssrc)); err != nil {
		return nil, validationErr(err)
	}
	if opts.Timeout != 0 {
		if err := tlv.ValidateTimeoutSeconds(opts.Timeout.Seconds()); err != nil {
			return nil, validationErr(err)
		}
	}
	if opts.FrequencyHz != nil {
		if err := tlv.ValidateFrequencyHz(*opts.FrequencyHz, false); err != nil {
			return nil, validationErr(err)
		}
	}
	if opts.Preset != "" {
		if err := tlv.ValidatePreset(opts.Preset, 0); err != nil {
			return nil, validationErr(err)
		}
	}
	if opts.SampleRate != nil {
		if err := tlv.ValidateSampleRate(uint64(*opts.SampleRate)); err != nil {
			return nil, validationErr(err)
		}
	}

	tag, err := newCommandTag()
	if err != nil {
		return nil, wrapErr(KindCommand, "generate command tag", err)
	}

	buf := buildTuneCommand(ssrc, tag, opts)

	statusConn, err := c.statusSocket()
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)

	retryInterval := initialRetryInterval
	for {
		c.metrics.recordAttempt()
		if _, err := c.dispatcher.Send(ctx, c.sendConn, c.statusAddr, buf, c.dispatchOpts()); err != nil {
			wrapped := wrapErr(KindCommand, "send tune command", err)
			c.metrics.recordFailure(KindCommand, wrapped)
			return nil, wrapped
		}

		attemptDeadline := time.Now().Add(retryInterval)
		if attemptDeadline.After(deadline) {
			attemptDeadline = deadline
		}

		for time.Now().Before(attemptDeadline) {
			select {
			case <-ctx.Done():
				return nil, wrapErr(KindTimeout, "tune: context canceled", ctx.Err())
			default:
			}

			remaining := time.Until(attemptDeadline)
			readTimeout := remaining
			if readTimeout > adaptiveReadCap {
				readTimeout = adaptiveReadCap
			}
			if readTimeout <= 0 {
				break
			}

			statusConn.SetReadDeadline(time.Now().Add(readTimeout))
			pkt := make([]byte, 2048)
			n, _, err := statusConn.ReadFromUDP(pkt)
			if err != nil {
				if isTimeoutErr(err) {
					continue
				}
				wrapped := wrapErr(KindConnection, "read status socket", err)
				c.metrics.recordFailure(KindConnection, wrapped)
				return nil, wrapped
			}

			c.metrics.recordStatusReceived()
			record, ok := decodeMatchingStatus(pkt[:n], ssrc, tag, c.log)
			if ok {
				return record, nil
			}
			// Not our reply: drain and keep waiting within this attempt.
		}

		if time.Now().After(deadline) || !deadline.After(time.Now()) {
			break
		}
		if retryInterval < maxRetryInterval {
			retryInterval *= 2
			if retryInterval > maxRetryInterval {
				retryInterval = maxRetryInterval
			}
		}
	}

	timeoutErr := wrapErr(KindTimeout, "tune: no matching status before deadline", nil)
	c.metrics.recordFailure(KindTimeout, timeoutErr)
	return nil, timeoutErr
}

func isTimeoutErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func buildTuneCommand(ssrc, tag uint32, opts TuneOptions) []byte {
	enc := tlv.NewEncoder(tlv.PacketCmd)
	enc.Uint(tagOutputSSRC, uint64(ssrc))
	enc.Uint(tagCommandTag, uint64(tag))
	if opts.FrequencyHz != nil {
		enc.Float64(tagRadioFrequency, *opts.FrequencyHz)
	}
	if opts.Preset != "" {
		enc.String(tagPreset, opts.Preset)
	}
	if opts.SampleRate != nil {
		enc.Uint(tagOutputSampRate, uint64(*opts.SampleRate))
	}
	if opts.LowEdgeHz != nil {
		enc.Float32(tagLowEdge, *opts.LowEdgeHz)
	}
	if opts.HighEdgeHz != nil {
		enc.Float32(tagHighEdge, *opts.HighEdgeHz)
	}
	if opts.GainDB != nil {
		enc.Float32(tagGain, *opts.GainDB)
	}
	if opts.AGCEnable != nil {
		enc.Uint(tagAGCEnable, boolToUint(*opts.AGCEnable))
	}
	if opts.RFGainDB != nil {
		enc.Float32(tagRFGain, *opts.RFGainDB)
	}
	if opts.RFAttenDB != nil {
		enc.Float32(tagRFAtten, *opts.RFAttenDB)
	}
	if opts.RFAGCEnable != nil {
		enc.Uint(tagRFAGC, boolToUint(*opts.RFAGCEnable))
	}
	if opts.Encoding != nil {
		enc.Uint(tagOutputEncoding, uint64(*opts.Encoding))
	}
	if opts.Destination != nil {
		enc.Socket(tagOutputDestSocket, opts.Destination.IP, uint16(opts.Destination.Port))
	}
	enc.EOL()
	return enc.Bytes()
}

// decodeMatchingStatus decodes a status packet and reports whether it
// correlates to ssrc/tag. Malformed packets and packets for a
// different channel or tag are reported as ok=false so the tune loop
// can keep waiting and ignore non-matching packets rather than
// treating them as errors.
func decodeMatchingStatus(pkt []byte, wantSSRC, wantTag uint32, log Logger) (*StatusRecord, bool) {
	if len(pkt) < 1 {
		return nil, false
	}
	records, err := tlv.Decode(pkt[1:])
	if err != nil {
		log.Printf("radiod: dropping malformed status packet: %v", err)
		return nil, false
	}

	rec := &StatusRecord{}
	var gotSSRC, gotTag bool
	for _, r := range records {
		switch r.Tag {
		case tagOutputSSRC:
			rec.SSRC = uint32(tlv.DecodeUint(r.Value, nopLog{log}))
			gotSSRC = true
		case tagCommandTag:
			rec.CommandTag = uint32(tlv.DecodeUint(r.Value, nopLog{log}))
			gotTag = true
		case tagRadioFrequency:
			rec.FrequencyHz = tlv.DecodeFloat64(r.Value, nopLog{log})
		case tagPreset:
			rec.Preset = tlv.DecodeString(r.Value)
		case tagOutputSampRate:
			rec.SampleRate = uint32(tlv.DecodeUint(r.Value, nopLog{log}))
		case tagLowEdge:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			rec.LowEdgeHz = v
		case tagHighEdge:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			rec.HighEdgeHz = v
		case tagBasebandPower:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			rec.BasebandPowerDB = &v
		case tagNoiseDensity:
			v := tlv.DecodeFloat32(r.Value, nopLog{log})
			rec.NoiseDensityDB = &v
		case tagDemodType:
			rec.DemodType = DemodType(tlv.DecodeUint(r.Value, nopLog{log}))
		case tagOutputEncoding:
			rec.Encoding = OutputEncoding(tlv.DecodeUint(r.Value, nopLog{log}))
		case tagOutputDestSocket:
			ip, port, err := tlv.DecodeSocket(r.Value)
			if err == nil {
				rec.Destination = &net.UDPAddr{IP: ip, Port: int(port)}
			}
		}
	}

	if !gotSSRC || !gotTag || rec.SSRC != wantSSRC || rec.CommandTag != wantTag {
		return nil, false
	}

	bw := channelBandwidthHz(&rec.LowEdgeHz, &rec.HighEdgeHz, rec.SampleRate)
	rec.SNRDB = computeSNRDB(rec.BasebandPowerDB, rec.NoiseDensityDB, bw)
	return rec, true
}

// nopLog adapts a radiod.Logger to tlv.Logger.
type nopLog struct{ l Logger }

func (n nopLog) Printf(format string, args ...any) { n.l.Printf(format, args...) }
