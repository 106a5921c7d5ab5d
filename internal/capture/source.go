// Package capture acquires local media, mixes audio, composites a watermark
// over video and records the result into timed segments.
package capture

import (
	"image"
	"image/color"
	"io"
	"math"
	"sync"
)

// AudioSource yields PCM16 mono frames. io.EOF means the source ended or
// the user revoked it; both are normal shutdown signals, not errors.
type AudioSource interface {
	ReadFrame() ([]int16, error)
	Stop()
}

// VideoSource yields RGBA frames under the same EOF contract.
type VideoSource interface {
	ReadFrame() (*image.RGBA, error)
	Stop()
}

const (
	SampleRate    = 48000
	FrameSamples  = 960 // 20ms at 48kHz
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 15
)

// ToneSource generates a sine tone; it stands in for a microphone when the
// process runs without a device backend and doubles as the test source.
type ToneSource struct {
	freq  float64
	gain  float64
	phase float64

	mu      sync.Mutex
	stopped bool
}

func NewToneSource(freq, gain float64) *ToneSource {
	return &ToneSource{freq: freq, gain: gain}
}

func (s *ToneSource) ReadFrame() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, io.EOF
	}
	frame := make([]int16, FrameSamples)
	step := 2 * math.Pi * s.freq / SampleRate
	for i := range frame {
		frame[i] = int16(s.gain * math.MaxInt16 * math.Sin(s.phase))
		s.phase += step
	}
	return frame, nil
}

func (s *ToneSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// TestPatternSource renders a moving gradient, the display stand-in.
type TestPatternSource struct {
	w, h int
	tick int

	mu      sync.Mutex
	stopped bool
}

func NewTestPatternSource(w, h int) *TestPatternSource {
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return &TestPatternSource{w: w, h: h}
}

func (s *TestPatternSource) ReadFrame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	shift := s.tick * 3
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + shift) % 256),
				G: uint8((y + shift) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	s.tick++
	return img, nil
}

func (s *TestPatternSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
