package radiod

import (
	"context"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/mcast"
	"github.com/cwsl/radiodctl/pkg/radiod/tlv"
)

func TestNewCommandTagIs31Bit(t *testing.T) {
	for i := 0; i < 100; i++ {
		tag, err := newCommandTag()
		if err != nil {
			t.Fatalf("newCommandTag: %v", err)
		}
		if tag&0x80000000 != 0 {
			t.Fatalf("tag %#x has bit 31 set, want a 31-bit value", tag)
		}
	}
}

// TestComputeSNRDBMatchesWorkedExample checks the SNR derivation
// against a worked example: baseband_power=-30dB, noise_density=-150dB/Hz,
// bandwidth = high_edge(3000) - low_edge(-300) = 3300Hz.
func TestComputeSNRDBMatchesWorkedExample(t *testing.T) {
	power := float32(-30)
	noise := float32(-150)
	bw := channelBandwidthHz(f32ptr(-300), f32ptr(3000), 0)
	if bw != 3300 {
		t.Fatalf("bandwidth = %v, want 3300", bw)
	}
	snr := computeSNRDB(&power, &noise, bw)
	if snr == nil {
		t.Fatal("expected a non-nil SNR")
	}
	want := float64(-30) - float64(-150) + 10*math.Log10(3300)
	if math.Abs(*snr-want) > 0.01 {
		t.Errorf("snr = %v, want %v", *snr, want)
	}
}

func TestComputeSNROmittedWhenInputsMissing(t *testing.T) {
	power := float32(-30)
	if got := computeSNRDB(&power, nil, 3300); got != nil {
		t.Errorf("expected nil SNR with missing noise density, got %v", *got)
	}
	if got := computeSNRDB(nil, nil, 3300); got != nil {
		t.Errorf("expected nil SNR with both inputs missing, got %v", *got)
	}
}

func TestChannelBandwidthFallsBackToSampleRate(t *testing.T) {
	bw := channelBandwidthHz(nil, nil, 12000)
	if bw != 12000 {
		t.Errorf("bandwidth = %v, want 12000 (sample rate fallback)", bw)
	}
}

func TestDecodeMatchingStatusIgnoresWrongTag(t *testing.T) {
	wrongTagPkt := buildStatusPacket(14_074_000, 0x1111, nil)
	if _, ok := decodeMatchingStatus(wrongTagPkt, 14_074_000, 0x2222, NopLogger); ok {
		t.Fatal("expected no match for a status carrying a different command tag")
	}
}

// TestDecodeMatchingStatusDerivesSNR exercises correlation and SNR
// derivation together through the wire decoder, using the same
// baseband_power/noise_density/bandwidth inputs as
// TestComputeSNRDBMatchesWorkedExample.
func TestDecodeMatchingStatusDerivesSNR(t *testing.T) {
	extra := func(e *tlv.Encoder) {
		e.String(tagPreset, "usb")
		e.Float32(tagBasebandPower, -30)
		e.Float32(tagNoiseDensity, -150)
		e.Float32(tagHighEdge, 3000)
		e.Float32(tagLowEdge, -300)
	}
	pkt := buildStatusPacket(14_074_000, 0xbeef, extra)

	rec, ok := decodeMatchingStatus(pkt, 14_074_000, 0xbeef, NopLogger)
	if !ok {
		t.Fatal("expected a match")
	}
	if rec.FrequencyHz != 14074000.0 {
		t.Errorf("frequency = %v, want 14074000.0", rec.FrequencyHz)
	}
	if rec.Preset != "usb" {
		t.Errorf("preset = %q, want usb", rec.Preset)
	}
	if rec.SNRDB == nil {
		t.Fatal("expected a derived SNR")
	}
	want := float64(-30) - float64(-150) + 10*math.Log10(3300)
	if math.Abs(*rec.SNRDB-want) > 0.01 {
		t.Errorf("snr = %v, want %v", *rec.SNRDB, want)
	}
}

func buildStatusPacket(ssrc, tag uint32, extra func(*tlv.Encoder)) []byte {
	enc := tlv.NewEncoder(tlv.PacketStatus)
	enc.Uint(tagOutputSSRC, uint64(ssrc))
	enc.Uint(tagCommandTag, uint64(tag))
	enc.Float64(tagRadioFrequency, 14074000.0)
	if extra != nil {
		extra(enc)
	}
	enc.EOL()
	return enc.Bytes()
}

func f32ptr(v float32) *float32 { return &v }

// TestTuneTimeout checks that when no reply is ever sent, Tune raises
// ErrTimeout within [0.5, 0.6]s having emitted at least 3 datagrams,
// and commands_failed increments by exactly 1.
func TestTuneTimeout(t *testing.T) {
	ctx := context.Background()
	group, harness := newLoopbackHarness(t)
	defer harness.Close()

	ctrl, err := New(ctx, group.IP.String(), Options{
		Interface:    "lo",
		Port:         group.Port,
		SendLoopback: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	sent := harness.countDatagrams(t, 700*time.Millisecond)

	start := time.Now()
	freq := 14074000.0
	_, tuneErr := ctrl.Tune(ctx, 14_074_000, TuneOptions{FrequencyHz: &freq, Timeout: 500 * time.Millisecond})
	elapsed := time.Since(start)

	if tuneErr == nil {
		t.Fatal("expected ErrTimeout")
	}
	if elapsed < 500*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Errorf("elapsed = %v, want within [0.5s, 0.6s]", elapsed)
	}

	snapshot := ctrl.GetMetrics()
	if snapshot.CommandsFailed != 1 {
		t.Errorf("commands_failed = %d, want 1", snapshot.CommandsFailed)
	}

	if n := <-sent; n < 3 {
		t.Errorf("datagrams emitted = %d, want >= 3", n)
	}
}

// TestTuneWithSpuriousPacket runs Tune end-to-end over a real loopback
// multicast group: the harness replies first with a status carrying
// the wrong command tag (ignored), then with the correctly tagged
// status, and Tune must still return the matching, SNR-annotated
// record within its timeout.
func TestTuneWithSpuriousPacket(t *testing.T) {
	ctx := context.Background()
	group, harness := newLoopbackHarness(t)
	defer harness.Close()

	ctrl, err := New(ctx, group.IP.String(), Options{
		Interface:    "lo",
		Port:         group.Port,
		SendLoopback: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Close()

	go harness.replyOnce(t, group, func(ssrc, tag uint32) {
		time.Sleep(30 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(ssrc, tag^0xdead, nil))
		time.Sleep(30 * time.Millisecond)
		extra := func(e *tlv.Encoder) {
			e.String(tagPreset, "usb")
			e.Float32(tagBasebandPower, -30)
			e.Float32(tagNoiseDensity, -150)
			e.Float32(tagHighEdge, 3000)
			e.Float32(tagLowEdge, -300)
		}
		harness.send(t, group, buildStatusPacket(ssrc, tag, extra))
	})

	freq := 14074000.0
	rec, err := ctrl.Tune(ctx, 14_074_000, TuneOptions{FrequencyHz: &freq, Preset: "usb", Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if rec.FrequencyHz != 14074000.0 {
		t.Errorf("frequency = %v, want 14074000.0", rec.FrequencyHz)
	}
	if rec.SNRDB == nil {
		t.Fatal("expected a derived SNR")
	}
}

// loopbackHarness listens on a multicast group on "lo" to observe
// commands a Controller under test sends, standing in for radiod
// during tests.
type loopbackHarness struct {
	conn *net.UDPConn
}

func newLoopbackHarness(t *testing.T) (*net.UDPAddr, *loopbackHarness) {
	t.Helper()
	iface, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no lo interface available: %v", err)
	}
	port := 40000 + (int(time.Now().UnixNano()) % 10000)
	group := &net.UDPAddr{IP: net.ParseIP(fmt.Sprintf("239.66.%d.%d", (port>>8)&0xff, port&0xff)), Port: port}

	conn, err := mcast.NewStatusSocket(group, mcast.StatusSocketOptions{Interface: iface, ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Skipf("cannot open loopback multicast harness: %v", err)
	}
	return group, &loopbackHarness{conn: conn}
}

func (h *loopbackHarness) Close() error { return h.conn.Close() }

// replyOnce blocks until it decodes an incoming command's SSRC and
// command tag, then invokes onCommand with them.
func (h *loopbackHarness) replyOnce(t *testing.T, group *net.UDPAddr, onCommand func(ssrc, tag uint32)) {
	t.Helper()
	buf := make([]byte, 2048)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		records, err := tlv.Decode(buf[1:n])
		if err != nil {
			continue
		}
		var ssrc, tag uint32
		var gotSSRC, gotTag bool
		for _, r := range records {
			switch r.Tag {
			case tagOutputSSRC:
				ssrc = uint32(tlv.DecodeUint(r.Value, tlv.NopLogger))
				gotSSRC = true
			case tagCommandTag:
				tag = uint32(tlv.DecodeUint(r.Value, tlv.NopLogger))
				gotTag = true
			}
		}
		if gotSSRC && gotTag {
			onCommand(ssrc, tag)
			return
		}
	}
}

func (h *loopbackHarness) send(t *testing.T, group *net.UDPAddr, buf []byte) {
	t.Helper()
	if _, err := h.conn.WriteToUDP(buf, group); err != nil {
		t.Logf("harness send: %v", err)
	}
}

// countDatagrams counts how many datagrams arrive within window,
// delivered asynchronously on the returned channel once window elapses.
func (h *loopbackHarness) countDatagrams(t *testing.T, window time.Duration) <-chan int {
	t.Helper()
	out := make(chan int, 1)
	go func() {
		deadline := time.Now().Add(window)
		n := 0
		buf := make([]byte, 2048)
		for time.Now().Before(deadline) {
			h.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			if _, _, err := h.conn.ReadFromUDP(buf); err == nil {
				n++
			}
		}
		out <- n
	}()
	return out
}
