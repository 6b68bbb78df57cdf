package tlv

import (
	"fmt"
	"math"
)

// Bounds for validated fields, per the radiod wire protocol's documented
// ranges. These are applied by callers before building a command packet;
// the codec itself never rejects a value it is asked to encode.
const (
	MaxSSRC = uint64(1)<<32 - 1

	MinFrequencyHz = 0.0 // exclusive; 0.0 is reserved for "remove"
	MaxFrequencyHz = 1e13

	MinSampleRate = 1
	MaxSampleRate = 1e8

	MinGainDB = -100.0
	MaxGainDB = 100.0

	DefaultMaxPresetLen = 32
)

// PresetCharset is the allowed character set for preset names.
const PresetCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// ValidationError describes a single field that failed validation.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tlv: invalid %s (%v): %s", e.Field, e.Value, e.Msg)
}

// ValidateSSRC checks ssrc fits in the protocol's 32-bit channel identifier.
func ValidateSSRC(ssrc uint64) error {
	if ssrc > MaxSSRC {
		return &ValidationError{Field: "ssrc", Value: ssrc, Msg: "must fit in 32 bits"}
	}
	return nil
}

// ValidateFrequencyHz checks a tuning frequency, rejecting non-positive
// values unless allowZero is set (the remove_channel operation sends
// exactly 0.0 on purpose).
func ValidateFrequencyHz(freq float64, allowZero bool) error {
	if freq == 0 && allowZero {
		return nil
	}
	if freq <= MinFrequencyHz || freq >= MaxFrequencyHz {
		return &ValidationError{Field: "frequency_hz", Value: freq, Msg: "must be in (0, 1e13)"}
	}
	return nil
}

// ValidateSampleRate checks an integer sample rate in Hz.
func ValidateSampleRate(rate uint64) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return &ValidationError{Field: "sample_rate", Value: rate, Msg: "must be in [1, 1e8]"}
	}
	return nil
}

// ValidateGainDB checks a gain value in dB.
func ValidateGainDB(db float64) error {
	if db < MinGainDB || db > MaxGainDB {
		return &ValidationError{Field: "gain_db", Value: db, Msg: "must be in [-100, 100]"}
	}
	return nil
}

// ValidateTimeoutSeconds checks a strictly positive, finite timeout.
func ValidateTimeoutSeconds(seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return &ValidationError{Field: "timeout_seconds", Value: seconds, Msg: "must be a positive finite number"}
	}
	return nil
}

// ValidatePreset checks a preset name against the allowlist charset and
// length bound (default 32, override with maxLen <= 0 to use default).
func ValidatePreset(preset string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxPresetLen
	}
	if len(preset) == 0 {
		return &ValidationError{Field: "preset", Value: preset, Msg: "must not be empty"}
	}
	if len(preset) > maxLen {
		return &ValidationError{Field: "preset", Value: preset, Msg: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	for _, r := range preset {
		if r >= 128 || !isPresetRune(byte(r)) {
			return &ValidationError{Field: "preset", Value: preset, Msg: "must match [A-Za-z0-9_-]"}
		}
	}
	return nil
}

func isPresetRune(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '_', b == '-':
		return true
	default:
		return false
	}
}

// ValidateString applies a generic allowlist/length check for other
// string parameters documented at their call sites: no ASCII control
// characters (codepoint < 32) or NUL, and a caller-supplied max length
// (<=0 means unbounded).
func ValidateString(field, s string, maxLen int) error {
	if maxLen > 0 && len(s) > maxLen {
		return &ValidationError{Field: field, Value: s, Msg: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 32 {
			return &ValidationError{Field: field, Value: s, Msg: "must not contain control characters"}
		}
	}
	return nil
}
