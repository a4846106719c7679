// Package vad provides voice activity detection based on local energy
// measurements.
//
// The detector classifies audio frames as speech or silence using an
// adaptive energy threshold. The background-noise estimate is updated only
// while in the Silence state so the speaker's own voice never raises the
// noise floor, and a minimum speech duration rejects clicks and pops.
//
// Usage:
//
//	detector := vad.NewEnergyDetector(vad.DefaultConfig())
//	result := detector.ProcessFrame(rms, time.Now())
//	if result.EndOfSpeech {
//	    // utterance complete, confidence in result.Confidence
//	}
package vad

import (
	"fmt"
	"time"
)

// State represents the detector's classification of the current frame.
type State int

const (
	// StateSilence means no speech is being detected.
	StateSilence State = iota
	// StateSpeech means an utterance is in progress.
	StateSpeech
	// StateProcessing means an utterance just completed; the next frame
	// starts a fresh detection cycle.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// noiseDecay is the smoothing factor for the background-noise estimate.
	noiseDecay = 0.999
	// noiseGain is the per-frame contribution of the current RMS level.
	noiseGain = 0.001
	// noiseMultiplier scales the noise floor into the adaptive threshold.
	noiseMultiplier = 3.0
)

// Config holds configuration for the energy detector.
type Config struct {
	// EnergyThreshold is the static lower bound of the speech threshold.
	EnergyThreshold float64

	// SilenceDuration is how long the level must stay below threshold
	// before an utterance is considered finished.
	SilenceDuration time.Duration

	// MinSpeechDuration is the minimum utterance length. Shorter episodes
	// are treated as noise bursts and never reported as speech endings.
	MinSpeechDuration time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:   0.02,
		SilenceDuration:   2000 * time.Millisecond,
		MinSpeechDuration: 300 * time.Millisecond,
	}
}

// IsValid validates the detector configuration.
func (c Config) IsValid() error {
	if c.EnergyThreshold < 0 {
		return fmt.Errorf("invalid EnergyThreshold: must be non-negative")
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("invalid SilenceDuration: must be positive")
	}
	if c.MinSpeechDuration <= 0 {
		return fmt.Errorf("invalid MinSpeechDuration: must be positive")
	}
	return nil
}

// Result is the outcome of processing one frame.
type Result struct {
	// State is the detector state after the frame.
	State State

	// StateChanged reports whether this frame caused a transition.
	StateChanged bool

	// SpeechDuration is the utterance length, set when EndOfSpeech is true.
	SpeechDuration time.Duration

	// Confidence is min(speechDuration/1s, 1), set when EndOfSpeech is true.
	Confidence float64

	// EndOfSpeech is true exactly once per completed utterance.
	EndOfSpeech bool
}

// EnergyDetector classifies frames by RMS level against an adaptive
// threshold. It is not safe for concurrent use; the capture pipeline calls
// it from a single audio callback.
type EnergyDetector struct {
	cfg Config

	state       State
	noise       float64
	speechStart time.Time
	lastSpeech  time.Time
	silenceAt   time.Time
}

// NewEnergyDetector creates a detector with the given configuration.
// Zero-valued fields are replaced by their defaults.
func NewEnergyDetector(cfg Config) *EnergyDetector {
	def := DefaultConfig()
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = def.MinSpeechDuration
	}
	return &EnergyDetector{
		cfg:   cfg,
		state: StateSilence,
		noise: cfg.EnergyThreshold,
	}
}

// ProcessFrame consumes one frame's RMS level and advances the state
// machine. now must be monotonic between calls.
func (d *EnergyDetector) ProcessFrame(rms float64, now time.Time) Result {
	// Processing resolves into a fresh detection cycle on the next frame.
	if d.state == StateProcessing {
		d.clearTimers()
		d.state = StateSilence
	}

	switch d.state {
	case StateSilence:
		// Adapt the noise floor only while silent.
		d.noise = d.noise*noiseDecay + rms*noiseGain

		if rms > d.Threshold() {
			d.state = StateSpeech
			d.speechStart = now
			d.lastSpeech = now
			d.silenceAt = time.Time{}
			return Result{State: StateSpeech, StateChanged: true}
		}
		return Result{State: StateSilence}

	case StateSpeech:
		if rms > d.Threshold() {
			d.lastSpeech = now
			d.silenceAt = time.Time{}
			return Result{State: StateSpeech}
		}

		if d.silenceAt.IsZero() {
			d.silenceAt = now
		}
		if now.Sub(d.silenceAt) < d.cfg.SilenceDuration {
			return Result{State: StateSpeech}
		}

		speechDur := d.lastSpeech.Sub(d.speechStart)
		d.clearTimers()

		if speechDur < d.cfg.MinSpeechDuration {
			// Noise burst, not an utterance.
			d.state = StateSilence
			return Result{State: StateSilence, StateChanged: true}
		}

		d.state = StateProcessing
		confidence := speechDur.Seconds()
		if confidence > 1 {
			confidence = 1
		}
		return Result{
			State:          StateProcessing,
			StateChanged:   true,
			SpeechDuration: speechDur,
			Confidence:     confidence,
			EndOfSpeech:    true,
		}
	}

	return Result{State: d.state}
}

// Threshold returns the current adaptive threshold.
func (d *EnergyDetector) Threshold() float64 {
	adaptive := d.noise * noiseMultiplier
	if adaptive < d.cfg.EnergyThreshold {
		return d.cfg.EnergyThreshold
	}
	return adaptive
}

// State returns the current detector state.
func (d *EnergyDetector) State() State {
	return d.state
}

// Reset forces the detector back to Silence and clears all timers.
// Call this at call end so stale thresholds do not leak into the next call.
func (d *EnergyDetector) Reset() {
	d.state = StateSilence
	d.noise = d.cfg.EnergyThreshold
	d.clearTimers()
}

func (d *EnergyDetector) clearTimers() {
	d.speechStart = time.Time{}
	d.lastSpeech = time.Time{}
	d.silenceAt = time.Time{}
}

// Ensure EnergyDetector implements Detector at compile time.
var _ Detector = (*EnergyDetector)(nil)
