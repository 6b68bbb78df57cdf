// Package radiod is a client library for radiod's UDP multicast
// command/status control plane: it builds and sends TLV-encoded
// commands, correlates them against status replies, and passively
// discovers active channels.
package radiod

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/dispatch"
	"github.com/cwsl/radiodctl/pkg/radiod/mcast"
	"github.com/cwsl/radiodctl/pkg/radiod/ratelimit"
	"github.com/cwsl/radiodctl/pkg/radiod/tlv"
)

// Logger is the minimal logging seam Controller needs; a *log.Logger
// satisfies it already.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// NopLogger discards every message.
var NopLogger Logger = nopLogger{}

// Options configures New.
type Options struct {
	// Interface pins outgoing multicast sends and group joins to a
	// named interface; empty means the kernel default (INADDR_ANY).
	Interface string
	// Port overrides the status/command port; 0 means mcast.StatusPort.
	Port int
	// MaxCommandsPerSec bounds the send rate; 0 means unlimited.
	MaxCommandsPerSec int
	// Resolvers is the host-resolution cascade tried, in order, before
	// the OS getaddrinfo fallback. Nil means literal-IPv4-then-getaddrinfo
	// only.
	Resolvers []mcast.HostResolver
	// StageTimeout bounds each resolver stage; 0 means mcast.DefaultStageTimeout.
	StageTimeout time.Duration
	// SendLoopback enables IP_MULTICAST_LOOP on the send socket.
	SendLoopback bool
	// MaxRetries and RetryDelay configure the dispatcher; 0 means the
	// dispatch package's defaults.
	MaxRetries int
	RetryDelay time.Duration
	Logger     Logger
}

// Controller drives one radiod instance's command/status multicast
// group: it sends TLV commands over a dedicated send socket and lazily
// opens a cached status socket the first time Tune needs to read
// replies. Safe for concurrent use.
type Controller struct {
	statusAddr *net.UDPAddr
	iface      *net.Interface

	sendConn *net.UDPConn
	sendMu   sync.Mutex

	statusMu   sync.Mutex
	statusConn *net.UDPConn

	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	metrics    *Metrics
	log        Logger

	maxRetries int
	retryDelay time.Duration

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// New resolves host to the status/command multicast group and opens
// the send socket. The status socket is opened lazily on first use.
func New(ctx context.Context, host string, opts Options) (*Controller, error) {
	log := opts.Logger
	if log == nil {
		log = NopLogger
	}

	iface, err := mcast.SelectInterface(opts.Interface)
	if err != nil {
		return nil, wrapErr(KindConnection, "select interface", err)
	}

	statusAddr, err := mcast.ResolveStatusAddr(ctx, host, opts.Port, opts.Resolvers, opts.StageTimeout)
	if err != nil {
		return nil, wrapErr(KindConnection, fmt.Sprintf("resolve %s", host), err)
	}

	sendConn, err := mcast.NewSendSocket(statusAddr, mcast.SendSocketOptions{
		Interface: iface,
		Loopback:  opts.SendLoopback,
	})
	if err != nil {
		return nil, wrapErr(KindConnection, "open send socket", err)
	}

	limiter := ratelimit.New(opts.MaxCommandsPerSec)

	return &Controller{
		statusAddr: statusAddr,
		iface:      iface,
		sendConn:   sendConn,
		limiter:    limiter,
		dispatcher: dispatch.New(limiter),
		metrics:    newMetrics(),
		log:        log,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}, nil
}

// StatusAddr returns the resolved status/command multicast address.
func (c *Controller) StatusAddr() *net.UDPAddr {
	return c.statusAddr
}

// Close releases the send socket and, if opened, the cached status
// socket. Idempotent: subsequent calls are no-ops.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.sendMu.Lock()
		if e := c.sendConn.Close(); e != nil {
			err = e
		}
		c.sendMu.Unlock()

		c.statusMu.Lock()
		if c.statusConn != nil {
			if e := c.statusConn.Close(); e != nil && err == nil {
				err = e
			}
		}
		c.statusMu.Unlock()
	})
	return err
}

func (c *Controller) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return wrapErr(KindState, "controller is closed", nil)
	}
	return nil
}

// statusSocket returns the cached status socket, opening it on first
// call.
func (c *Controller) statusSocket() (*net.UDPConn, error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if c.statusConn != nil {
		return c.statusConn, nil
	}
	conn, err := mcast.NewStatusSocket(c.statusAddr, mcast.StatusSocketOptions{Interface: c.iface})
	if err != nil {
		return nil, wrapErr(KindConnection, "open status socket", err)
	}
	c.statusConn = conn
	return conn, nil
}

// GetMetrics returns a point-in-time snapshot of the command counters.
func (c *Controller) GetMetrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// ResetMetrics zeroes every counter.
func (c *Controller) ResetMetrics() {
	c.metrics.Reset()
}

func (c *Controller) dispatchOpts() dispatch.Options {
	return dispatch.Options{MaxRetries: c.maxRetries, RetryDelay: c.retryDelay}
}

func validationErr(err error) error {
	return wrapErr(KindValidation, err.Error(), err)
}

// send serializes buf to the status/command group, recording metrics.
func (c *Controller) send(ctx context.Context, buf []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.metrics.recordAttempt()
	_, err := c.dispatcher.Send(ctx, c.sendConn, c.statusAddr, buf, c.dispatchOpts())
	if err != nil {
		wrapped := wrapErr(KindCommand, "send command", err)
		c.metrics.recordFailure(KindCommand, wrapped)
		return wrapped
	}
	return nil
}

// CreateChannel sends a command that creates (or re-tunes, if ssrc
// already exists) a channel at the given frequency, applying a preset
// and, if sampleRate is non-zero, an explicit output sample rate.
// Grounded on the teacher's CreateChannel/CreateChannelWithBandwidth.
func (c *Controller) CreateChannel(ctx context.Context, ssrc uint32, freqHz float64, preset string, sampleRate uint32) error {
	if err := tlv.ValidateSSRC(uint64(ssrc)); err != nil {
		return validationErr(err)
	}
	if err := tlv.ValidateFrequencyHz(freqHz, false); err != nil {
		return validationErr(err)
	}
	if preset != "" {
		if err := tlv.ValidatePreset(preset, 0); err != nil {
			return validationErr(err)
		}
	}
	if sampleRate != 0 {
		if err := tlv.ValidateSampleRate(uint64(sampleRate)); err != nil {
			return validationErr(err)
		}
	}

	tag, err := newCommandTag()
	if err != nil {
		return wrapErr(KindCommand, "generate command tag", err)
	}
	return c.send(ctx, buildCreateChannelCommand(ssrc, tag, freqHz, preset, sampleRate))
}

func buildCreateChannelCommand(ssrc, tag uint32, freqHz float64, preset string, sampleRate uint32) []byte {
	enc := tlv.NewEncoder(tlv.PacketCmd)
	enc.Uint(tagOutputSSRC, uint64(ssrc))
	enc.Uint(tagCommandTag, uint64(tag))
	enc.Float64(tagRadioFrequency, freqHz)
	if preset != "" {
		enc.String(tagPreset, preset)
	}
	if sampleRate != 0 {
		enc.Uint(tagOutputSampRate, uint64(sampleRate))
	}
	enc.EOL()
	return enc.Bytes()
}

// RemoveChannel marks ssrc for removal by setting its frequency to
// zero, matching the teacher's DisableChannel/TerminateChannel
// semantics: radiod does not guarantee immediate teardown, since a
// still-active preset file entry can recreate the channel on reload.
func (c *Controller) RemoveChannel(ctx context.Context, ssrc uint32) error {
	if err := tlv.ValidateSSRC(uint64(ssrc)); err != nil {
		return validationErr(err)
	}

	tag, err := newCommandTag()
	if err != nil {
		return wrapErr(KindCommand, "generate command tag", err)
	}
	return c.send(ctx, buildRemoveChannelCommand(ssrc, tag))
}

func buildRemoveChannelCommand(ssrc, tag uint32) []byte {
	enc := tlv.NewEncoder(tlv.PacketCmd)
	enc.Uint(tagOutputSSRC, uint64(ssrc))
	enc.Uint(tagCommandTag, uint64(tag))
	enc.Float64(tagRadioFrequency, 0.0)
	enc.EOL()
	return enc.Bytes()
}

func singleFieldCommand(ssrc uint32, build func(*tlv.Encoder)) ([]byte, error) {
	tag, err := newCommandTag()
	if err != nil {
		return nil, wrapErr(KindCommand, "generate command tag", err)
	}
	enc := tlv.NewEncoder(tlv.PacketCmd)
	enc.Uint(tagOutputSSRC, uint64(ssrc))
	enc.Uint(tagCommandTag, uint64(tag))
	build(enc)
	enc.EOL()
	return enc.Bytes(), nil
}

// sendField builds and sends a single-field setter command for ssrc.
func (c *Controller) sendField(ctx context.Context, ssrc uint32, build func(*tlv.Encoder)) error {
	if err := tlv.ValidateSSRC(uint64(ssrc)); err != nil {
		return validationErr(err)
	}
	buf, err := singleFieldCommand(ssrc, build)
	if err != nil {
		return err
	}
	return c.send(ctx, buf)
}

// SetFrequency retunes ssrc to freqHz.
func (c *Controller) SetFrequency(ctx context.Context, ssrc uint32, freqHz float64) error {
	if err := tlv.ValidateFrequencyHz(freqHz, false); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float64(tagRadioFrequency, freqHz) })
}

// SetPreset applies a named demodulator preset to ssrc.
func (c *Controller) SetPreset(ctx context.Context, ssrc uint32, preset string) error {
	if err := tlv.ValidatePreset(preset, 0); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.String(tagPreset, preset) })
}

// SetSampleRate sets ssrc's output sample rate.
func (c *Controller) SetSampleRate(ctx context.Context, ssrc uint32, rate uint32) error {
	if err := tlv.ValidateSampleRate(uint64(rate)); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tagOutputSampRate, uint64(rate)) })
}

// SetGain sets ssrc's baseband gain in dB.
func (c *Controller) SetGain(ctx context.Context, ssrc uint32, gainDB float32) error {
	if err := tlv.ValidateGainDB(float64(gainDB)); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagGain, gainDB) })
}

// SetAGC enables or disables baseband AGC on ssrc.
func (c *Controller) SetAGC(ctx context.Context, ssrc uint32, enable bool) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tagAGCEnable, boolToUint(enable)) })
}

// SetFilter sets ssrc's passband edges in Hz relative to the carrier.
func (c *Controller) SetFilter(ctx context.Context, ssrc uint32, lowEdgeHz, highEdgeHz float32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) {
		e.Float32(tagLowEdge, lowEdgeHz)
		e.Float32(tagHighEdge, highEdgeHz)
	})
}

// SetSquelch sets ssrc's squelch open/close thresholds in dB SNR.
func (c *Controller) SetSquelch(ctx context.Context, ssrc uint32, openDB, closeDB float32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) {
		e.Float32(tagSquelchOpen, openDB)
		e.Float32(tagSquelchClose, closeDB)
	})
}

// SetSNRSquelch sets ssrc's SNR-based squelch threshold in dB.
func (c *Controller) SetSNRSquelch(ctx context.Context, ssrc uint32, snrDB float32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagSNRSquelch, snrDB) })
}

// SetRFGain sets ssrc's front-end RF gain in dB.
func (c *Controller) SetRFGain(ctx context.Context, ssrc uint32, gainDB float32) error {
	if err := tlv.ValidateGainDB(float64(gainDB)); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagRFGain, gainDB) })
}

// SetRFAtten sets ssrc's front-end RF attenuation in dB.
func (c *Controller) SetRFAtten(ctx context.Context, ssrc uint32, attenDB float32) error {
	if err := tlv.ValidateGainDB(float64(attenDB)); err != nil {
		return validationErr(err)
	}
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagRFAtten, attenDB) })
}

// SetRFAGC enables or disables front-end RF AGC on ssrc.
func (c *Controller) SetRFAGC(ctx context.Context, ssrc uint32, enable bool) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tagRFAGC, boolToUint(enable)) })
}

// SetOutputEncoding sets ssrc's output sample encoding.
func (c *Controller) SetOutputEncoding(ctx context.Context, ssrc uint32, encoding OutputEncoding) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tagOutputEncoding, uint64(encoding)) })
}

// SetOutputDestination redirects ssrc's data output to dest.
func (c *Controller) SetOutputDestination(ctx context.Context, ssrc uint32, dest *net.UDPAddr) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) {
		e.Socket(tagOutputDestSocket, dest.IP, uint16(dest.Port))
	})
}

// SetBinCount sets ssrc's spectrum channel bin count.
func (c *Controller) SetBinCount(ctx context.Context, ssrc uint32, bins uint32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tagBinCount, uint64(bins)) })
}

// SetNoncoherentBinBW sets ssrc's noncoherent spectrum bin bandwidth in Hz.
func (c *Controller) SetNoncoherentBinBW(ctx context.Context, ssrc uint32, bwHz float32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagNoncoherentBinBW, bwHz) })
}

// SetStatusInterval sets how often, in seconds, ssrc reports status.
func (c *Controller) SetStatusInterval(ctx context.Context, ssrc uint32, seconds float32) error {
	return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tagStatusInterval, seconds) })
}

// SetRaw is the generic escape hatch for setter-only wire codes this
// package does not otherwise name (Doppler, PLL, first-LO, option
// bits, Opus bitrate, buffering, channel count, and any other
// radiod-defined code). value must be one of uint64, int64, float32,
// float64, string, or []byte.
func (c *Controller) SetRaw(ctx context.Context, ssrc uint32, tag byte, value any) error {
	switch v := value.(type) {
	case uint64:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Uint(tag, v) })
	case int64:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Int(tag, v) })
	case float32:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float32(tag, v) })
	case float64:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Float64(tag, v) })
	case string:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.String(tag, v) })
	case []byte:
		return c.sendField(ctx, ssrc, func(e *tlv.Encoder) { e.Raw(tag, v) })
	default:
		return wrapErr(KindValidation, fmt.Sprintf("SetRaw: unsupported value type %T for tag %d", value, tag), nil)
	}
}

// VerifyChannel runs a short passive discovery pass and reports
// whether ssrc is currently active, optionally checking its frequency
// is within toleranceHz of expectedFreqHz. A nil expectedFreqHz skips
// the frequency check. Has no direct teacher precedent; built on the
// discovery mechanism and the teacher's GetChannelStatus accessor shape.
func (c *Controller) VerifyChannel(ctx context.Context, ssrc uint32, expectedFreqHz *float64, toleranceHz float64, listenDuration time.Duration) (bool, error) {
	channels, err := Discover(ctx, c.statusAddr, listenDuration, DiscoverOptions{Interface: c.iface, Logger: c.log})
	if err != nil {
		return false, err
	}
	info, ok := channels[ssrc]
	if !ok {
		return false, nil
	}
	if expectedFreqHz != nil {
		delta := info.FrequencyHz - *expectedFreqHz
		if delta < 0 {
			delta = -delta
		}
		if delta > toleranceHz {
			return false, nil
		}
	}
	return true, nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
