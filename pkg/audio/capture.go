package audio

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voicebridge/voicebridge/pkg/vad"
)

const (
	// DefaultSampleRate is the capture sample rate expected by the
	// upstream provider.
	DefaultSampleRate = 16000
	// DefaultChannels is mono capture.
	DefaultChannels = 1
	// DefaultFrameSize is the number of samples per processed frame.
	DefaultFrameSize = 1024
	// DefaultNoiseFloor is the minimum RMS level worth transmitting.
	// Frames below it are dropped locally to avoid sending silence.
	DefaultNoiseFloor = 0.01

	// captureBufferMs is the ring buffer depth between the device
	// callback and frame processing.
	captureBufferMs = 500

	// frameQueueLen bounds encoded frames awaiting transmission.
	frameQueueLen = 50
)

// DeviceError indicates the microphone is unavailable or permission was
// denied.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Level is a per-frame loudness observation emitted to listeners.
type Level struct {
	Source string
	RMS    float64
	State  vad.State
}

// LevelFunc receives audio-level observations. It is called from the audio
// callback and must not block.
type LevelFunc func(Level)

// CaptureConfig holds configuration for the capture pipeline.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	FrameSize  int
	NoiseFloor float64

	// Processing hints requested from the platform. Backends that do not
	// support them capture raw audio.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultCaptureConfig returns the default capture configuration.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		FrameSize:        DefaultFrameSize,
		NoiseFloor:       DefaultNoiseFloor,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Capture owns the microphone stream and the encoding buffer. It computes
// per-frame loudness, feeds the voice activity detector, and encodes frames
// for transmission while streaming is enabled.
type Capture struct {
	cfg      CaptureConfig
	detector vad.Detector
	onLevel  LevelFunc

	buf    *RingBuffer
	frames chan []byte

	streaming atomic.Bool

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
}

// NewCapture creates a capture pipeline. detector must not be nil; onLevel
// may be nil.
func NewCapture(cfg CaptureConfig, detector vad.Detector, onLevel LevelFunc) *Capture {
	def := DefaultCaptureConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = def.NoiseFloor
	}

	return &Capture{
		cfg:      cfg,
		detector: detector,
		onLevel:  onLevel,
		buf:      NewRingBuffer(cfg.SampleRate, captureBufferMs, 4),
		frames:   make(chan []byte, frameQueueLen),
	}
}

// Setup opens the microphone and starts the capture device.
// Returns a DeviceError if no device exists or it cannot be started.
func (c *Capture) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return &DeviceError{Op: "init context", Err: err}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = 20
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(c.cfg.Channels)
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, framecount uint32) {
			c.onDeviceData(inputSamples)
		},
	})
	if err != nil {
		if uerr := malgoCtx.Uninit(); uerr != nil {
			log.Printf("[capture] context uninit error: %v", uerr)
		}
		malgoCtx.Free()
		return &DeviceError{Op: "init device", Err: err}
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		if uerr := malgoCtx.Uninit(); uerr != nil {
			log.Printf("[capture] context uninit error: %v", uerr)
		}
		malgoCtx.Free()
		return &DeviceError{Op: "start device", Err: err}
	}

	c.malgoCtx = malgoCtx
	c.device = device
	log.Printf("[capture] device started: %dHz, %dch, frame=%d samples",
		c.cfg.SampleRate, c.cfg.Channels, c.cfg.FrameSize)
	return nil
}

// onDeviceData accumulates device chunks and cuts fixed-size frames.
func (c *Capture) onDeviceData(in []byte) {
	c.buf.Write(in)

	frameBytes := c.cfg.FrameSize * 4
	for {
		chunk, ok := c.buf.ReadFrame(frameBytes)
		if !ok {
			return
		}
		c.ProcessSamples(DecodeF32(chunk), time.Now())
	}
}

// ProcessSamples runs one frame through the measurement, detection, and
// encoding steps. Exposed so the pipeline can be driven without a device.
func (c *Capture) ProcessSamples(samples []float32, now time.Time) {
	rms := RMS(samples)
	result := c.detector.ProcessFrame(rms, now)

	if c.onLevel != nil {
		c.onLevel(Level{Source: "local", RMS: rms, State: result.State})
	}

	if !c.streaming.Load() || rms <= c.cfg.NoiseFloor {
		return
	}

	select {
	case c.frames <- EncodePCM16(samples):
	default:
		log.Printf("[capture] frame queue full, dropping frame")
	}
}

// SetStreaming enables or disables frame transmission. Measurement and
// detection continue either way.
func (c *Capture) SetStreaming(on bool) {
	c.streaming.Store(on)
}

// Frames returns the queue of encoded PCM16 frames ready to transmit.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Detector returns the voice activity detector fed by this pipeline.
func (c *Capture) Detector() vad.Detector {
	return c.detector
}

// Teardown stops the device, releases the microphone, and closes the audio
// context. Every step runs even if a prior one fails; failures are logged,
// not propagated, because teardown must be unconditional.
func (c *Capture) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streaming.Store(false)

	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			log.Printf("[capture] device stop error: %v", err)
		}
		c.device.Uninit()
		c.device = nil
	}

	if c.malgoCtx != nil {
		if err := c.malgoCtx.Uninit(); err != nil {
			log.Printf("[capture] context uninit error: %v", err)
		}
		c.malgoCtx.Free()
		c.malgoCtx = nil
	}

	c.buf.Clear()
	log.Printf("[capture] released")
}
