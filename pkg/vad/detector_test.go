package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedFrames feeds count frames of constant rms, spaced step apart,
// starting at start. Returns the time after the last frame.
func feedFrames(d Detector, rms float64, start time.Time, step time.Duration, count int) time.Time {
	now := start
	for i := 0; i < count; i++ {
		d.ProcessFrame(rms, now)
		now = now.Add(step)
	}
	return now
}

func TestConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().IsValid())

	bad := DefaultConfig()
	bad.EnergyThreshold = -1
	assert.Error(t, bad.IsValid())

	bad = DefaultConfig()
	bad.SilenceDuration = 0
	assert.Error(t, bad.IsValid())

	bad = DefaultConfig()
	bad.MinSpeechDuration = -time.Second
	assert.Error(t, bad.IsValid())
}

func TestSilenceStaysSilent(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	for i := 0; i < 500; i++ {
		res := d.ProcessFrame(0.001, now)
		assert.Equal(t, StateSilence, res.State)
		assert.False(t, res.StateChanged)
		assert.False(t, res.EndOfSpeech)
		now = now.Add(20 * time.Millisecond)
	}
}

func TestAdaptiveThresholdConverges(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())

	// A background level below the initial threshold but above static/3
	// keeps the detector silent while the noise estimate converges toward
	// the background, so the threshold approaches 3x background.
	const background = 0.05
	feedFrames(d, background, time.Now(), 20*time.Millisecond, 20000)

	assert.InDelta(t, 3*background, d.Threshold(), 3*background*0.01)
}

func TestSilenceToSpeechTransition(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	start := time.Now()

	// Train the noise floor with ~1s of quiet.
	now := feedFrames(d, 0.001, start, 20*time.Millisecond, 50)

	res := d.ProcessFrame(0.5, now)
	assert.Equal(t, StateSpeech, res.State)
	assert.True(t, res.StateChanged)
	assert.Equal(t, StateSpeech, d.State())
}

func TestShortBurstNeverEndsSpeech(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	// 100ms of loud frames, below the 300ms minimum.
	sawEnd := false
	for i := 0; i < 5; i++ {
		res := d.ProcessFrame(0.5, now)
		sawEnd = sawEnd || res.EndOfSpeech
		now = now.Add(20 * time.Millisecond)
	}
	require.Equal(t, StateSpeech, d.State())

	// Then well over the silence duration of quiet.
	for i := 0; i < 150; i++ {
		res := d.ProcessFrame(0.001, now)
		sawEnd = sawEnd || res.EndOfSpeech
		now = now.Add(20 * time.Millisecond)
	}

	assert.False(t, sawEnd, "noise burst must not produce EndOfSpeech")
	assert.Equal(t, StateSilence, d.State())
}

func TestUtteranceEmitsEndOfSpeechOnce(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	// 600ms of speech.
	for i := 0; i < 30; i++ {
		d.ProcessFrame(0.5, now)
		now = now.Add(20 * time.Millisecond)
	}

	// Quiet until the silence window elapses.
	var ends []Result
	for i := 0; i < 150; i++ {
		res := d.ProcessFrame(0.001, now)
		if res.EndOfSpeech {
			ends = append(ends, res)
		}
		now = now.Add(20 * time.Millisecond)
	}

	require.Len(t, ends, 1)
	end := ends[0]
	assert.Equal(t, StateProcessing, end.State)
	assert.True(t, end.StateChanged)
	// 30 frames 20ms apart span 580ms from first to last speech frame.
	assert.InDelta(t, 0.58, end.Confidence, 0.03)
	assert.InDelta(t, 0.58, end.SpeechDuration.Seconds(), 0.03)
}

func TestConfidenceCapsAtOne(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	// 2s of speech.
	for i := 0; i < 100; i++ {
		d.ProcessFrame(0.5, now)
		now = now.Add(20 * time.Millisecond)
	}

	var end Result
	for i := 0; i < 150; i++ {
		res := d.ProcessFrame(0.001, now)
		if res.EndOfSpeech {
			end = res
		}
		now = now.Add(20 * time.Millisecond)
	}

	require.True(t, end.EndOfSpeech)
	assert.Equal(t, 1.0, end.Confidence)
}

func TestProcessingResolvesToFreshCycle(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	for i := 0; i < 30; i++ {
		d.ProcessFrame(0.5, now)
		now = now.Add(20 * time.Millisecond)
	}
	for i := 0; i < 150; i++ {
		d.ProcessFrame(0.001, now)
		now = now.Add(20 * time.Millisecond)
	}
	require.Equal(t, StateProcessing, d.State())

	// The frame after Processing starts a new cycle and can immediately
	// re-enter Speech.
	res := d.ProcessFrame(0.5, now)
	assert.Equal(t, StateSpeech, res.State)
	assert.True(t, res.StateChanged)
}

func TestMidUtterancePauseDoesNotEndSpeech(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	for i := 0; i < 30; i++ {
		d.ProcessFrame(0.5, now)
		now = now.Add(20 * time.Millisecond)
	}

	// 1s pause, shorter than the 2s silence window.
	for i := 0; i < 50; i++ {
		res := d.ProcessFrame(0.001, now)
		assert.Equal(t, StateSpeech, res.State)
		assert.False(t, res.EndOfSpeech)
		now = now.Add(20 * time.Millisecond)
	}

	// Speech resumes; the pending silence marker must be discarded.
	res := d.ProcessFrame(0.5, now)
	assert.Equal(t, StateSpeech, res.State)
	assert.False(t, res.StateChanged)
}

func TestReset(t *testing.T) {
	d := NewEnergyDetector(DefaultConfig())
	now := time.Now()

	d.ProcessFrame(0.5, now)
	require.Equal(t, StateSpeech, d.State())

	d.Reset()
	assert.Equal(t, StateSilence, d.State())
	assert.Equal(t, DefaultConfig().EnergyThreshold, d.Threshold())
}
