package capture

import (
	"io"
	"math"
	"sync"
)

// Mixer merges any number of PCM16 sources into one track by summation with
// clipping. Sources that end are dropped; the mix ends when none remain.
type Mixer struct {
	mu      sync.Mutex
	sources []AudioSource
}

func NewMixer(sources ...AudioSource) *Mixer {
	live := make([]AudioSource, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			live = append(live, s)
		}
	}
	return &Mixer{sources: live}
}

func (m *Mixer) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

func (m *Mixer) ReadFrame() ([]int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mixed []int32
	live := m.sources[:0]
	for _, s := range m.sources {
		frame, err := s.ReadFrame()
		if err != nil {
			continue // source ended, drop it
		}
		live = append(live, s)
		if mixed == nil {
			mixed = make([]int32, len(frame))
		}
		if len(frame) > len(mixed) {
			grown := make([]int32, len(frame))
			copy(grown, mixed)
			mixed = grown
		}
		for i, v := range frame {
			mixed[i] += int32(v)
		}
	}
	m.sources = live

	if mixed == nil {
		return nil, io.EOF
	}

	out := make([]int16, len(mixed))
	for i, v := range mixed {
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out, nil
}

func (m *Mixer) Stop() {
	m.mu.Lock()
	sources := m.sources
	m.sources = nil
	m.mu.Unlock()
	for _, s := range sources {
		s.Stop()
	}
}
