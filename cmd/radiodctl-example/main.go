// Command radiodctl-example demonstrates the radiodctl library: it
// opens a Controller against a radiod status group, creates a channel,
// tunes it, runs a short discovery pass, and removes the channel.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/cwsl/radiodctl/pkg/radiod"
	"github.com/cwsl/radiodctl/pkg/radiodcfg"
)

func main() {
	configFile := flag.String("config", "radiodctl.yaml", "path to configuration file")
	ssrc := flag.Uint64("ssrc", 14074000, "channel SSRC to create/tune/remove")
	freq := flag.Float64("freq", 14074000, "frequency in Hz")
	preset := flag.String("preset", "usb", "demodulator preset")
	flag.Parse()

	cfg, err := radiodcfg.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ctrl, err := radiod.New(ctx, cfg.Radiod.StatusGroup, cfg.Options())
	if err != nil {
		log.Fatalf("connect to radiod: %v", err)
	}
	defer ctrl.Close()

	log.Printf("connected to radiod status group %s", ctrl.StatusAddr())

	ssrcU32 := uint32(*ssrc)
	if err := ctrl.CreateChannel(ctx, ssrcU32, *freq, *preset, 12000); err != nil {
		log.Fatalf("create channel: %v", err)
	}
	log.Printf("created channel %d at %.0f Hz (%s)", ssrcU32, *freq, *preset)

	rec, err := ctrl.Tune(ctx, ssrcU32, radiod.TuneOptions{
		FrequencyHz: freq,
		Preset:      *preset,
		Timeout:     3 * time.Second,
	})
	if err != nil {
		log.Printf("tune: %v", err)
	} else {
		log.Printf("tuned: frequency=%.0f preset=%s snr=%v", rec.FrequencyHz, rec.Preset, rec.SNRDB)
	}

	channels, err := radiod.Discover(ctx, ctrl.StatusAddr(), 2*time.Second, radiod.DiscoverOptions{})
	if err != nil {
		log.Printf("discover: %v", err)
	} else {
		log.Printf("discovered %d channel(s)", len(channels))
		for ssrc, info := range channels {
			log.Printf("  ssrc=%d freq=%.0f preset=%s", ssrc, info.FrequencyHz, info.Preset)
		}
	}

	if err := ctrl.RemoveChannel(ctx, ssrcU32); err != nil {
		log.Printf("remove channel: %v", err)
	} else {
		log.Printf("removed channel %d", ssrcU32)
	}

	snap := ctrl.GetMetrics()
	log.Printf("commands sent=%d succeeded=%d failed=%d success_rate=%.2f",
		snap.CommandsSent, snap.CommandsSucceeded, snap.CommandsFailed, snap.SuccessRate)
}
