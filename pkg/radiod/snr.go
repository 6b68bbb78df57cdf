package radiod

import "math"

// computeSNRDB derives the SNR in dB from reported baseband power and
// noise power spectral density over the channel's bandwidth:
// SNR = basebandPower - noiseDensity + 10*log10(bandwidth). Returns
// nil when either input is missing or the bandwidth is non-positive,
// since a value with no physical meaning is worse than no value.
func computeSNRDB(basebandPowerDB, noiseDensityDBHz *float32, bandwidthHz float64) *float64 {
	if basebandPowerDB == nil || noiseDensityDBHz == nil || bandwidthHz <= 0 {
		return nil
	}
	snr := float64(*basebandPowerDB) - float64(*noiseDensityDBHz) + 10*math.Log10(bandwidthHz)
	return &snr
}

// channelBandwidthHz is the channel bandwidth implied by
// high_edge - low_edge, falling back to the sample rate when the
// edges are absent or non-positive.
func channelBandwidthHz(lowEdgeHz, highEdgeHz *float32, sampleRate uint32) float64 {
	if lowEdgeHz != nil && highEdgeHz != nil {
		bw := float64(*highEdgeHz) - float64(*lowEdgeHz)
		if bw > 0 {
			return bw
		}
	}
	return float64(sampleRate)
}
