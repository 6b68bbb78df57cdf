package radiod

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod/tlv"
)

func TestDecodeChannelInfoRequiresSSRC(t *testing.T) {
	enc := tlv.NewEncoder(tlv.PacketStatus)
	enc.Float64(tagRadioFrequency, 14074000.0)
	enc.EOL()
	if _, ok := decodeChannelInfo(enc.Bytes(), NopLogger); ok {
		t.Fatal("expected no ChannelInfo without an SSRC record")
	}
}

func TestDecodeChannelInfoDropsMalformedPacket(t *testing.T) {
	malformed := []byte{byte(tlv.PacketStatus), tagOutputSSRC, 0x7f, 0x01, 0x02} // claims 127 bytes, has 2
	if _, ok := decodeChannelInfo(malformed, NopLogger); ok {
		t.Fatal("expected malformed packet to be dropped")
	}
}

// TestDiscoverReturnsOneEntryPerSSRC sends three STATUS packets for
// two distinct SSRCs (one repeated) within a 1s window; Discover with
// a 1.5s listen duration must return exactly two entries.
func TestDiscoverReturnsOneEntryPerSSRC(t *testing.T) {
	ctx := context.Background()
	group, harness := newLoopbackHarness(t)
	defer harness.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(111, 1, nil))
		time.Sleep(50 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(222, 2, nil))
		time.Sleep(50 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(111, 3, nil)) // repeat of 111
	}()

	iface, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no lo interface available: %v", err)
	}
	channels, err := Discover(ctx, group, 1500*time.Millisecond, DiscoverOptions{Interface: iface})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("len(channels) = %d, want 2 (%v)", len(channels), channels)
	}
	if _, ok := channels[111]; !ok {
		t.Error("missing SSRC 111")
	}
	if _, ok := channels[222]; !ok {
		t.Error("missing SSRC 222")
	}
}

// TestDiscoverKeepsFirstSightingPerSSRC sends two packets for the same
// SSRC with differing frequencies, and asserts Discover retains the
// first one observed rather than the last.
func TestDiscoverKeepsFirstSightingPerSSRC(t *testing.T) {
	ctx := context.Background()
	group, harness := newLoopbackHarness(t)
	defer harness.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(111, 1, func(e *tlv.Encoder) {
			e.Float64(tagRadioFrequency, 7074000.0)
		}))
		time.Sleep(50 * time.Millisecond)
		harness.send(t, group, buildStatusPacket(111, 2, func(e *tlv.Encoder) {
			e.Float64(tagRadioFrequency, 14074000.0)
		}))
	}()

	iface, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no lo interface available: %v", err)
	}
	channels, err := Discover(ctx, group, 1*time.Second, DiscoverOptions{Interface: iface})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	info, ok := channels[111]
	if !ok {
		t.Fatal("missing SSRC 111")
	}
	if info.FrequencyHz != 7074000.0 {
		t.Errorf("frequency = %v, want 7074000.0 (first sighting, not last)", info.FrequencyHz)
	}
}
