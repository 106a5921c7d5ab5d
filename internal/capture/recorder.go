package capture

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	recordVideo byte = 'V'
	recordAudio byte = 'A'

	DefaultSegmentDuration = 10 * time.Second
)

// Artifact is the single recorded output produced on Stop.
type Artifact struct {
	Data      []byte
	Segments  int
	StartedAt time.Time
	EndedAt   time.Time
}

// Recorder accumulates the composited stream into timed segments and
// concatenates them on Stop. Records are length-prefixed:
// kind(1) | pts-unix-micro(8) | len(4) | payload. Video payloads are PNG
// frames, audio payloads little-endian PCM16; the upload collaborator owns
// transcoding to a distribution format.
type Recorder struct {
	segmentDur time.Duration
	now        func() time.Time
	log        zerolog.Logger

	mu        sync.Mutex
	segments  [][]byte
	cur       bytes.Buffer
	curStart  time.Time
	startedAt time.Time
	stopped   bool
	artifact  Artifact
}

func NewRecorder(segmentDur time.Duration) *Recorder {
	if segmentDur <= 0 {
		segmentDur = DefaultSegmentDuration
	}
	return &Recorder{
		segmentDur: segmentDur,
		now:        time.Now,
		log:        log.With().Str("module", "capture.recorder").Logger(),
	}
}

func (r *Recorder) WriteVideoFrame(img *image.RGBA) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	r.write(recordVideo, buf.Bytes())
	return nil
}

func (r *Recorder) WriteAudioFrame(pcm []int16) {
	payload := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(s))
	}
	r.write(recordAudio, payload)
}

func (r *Recorder) write(kind byte, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	now := r.now()
	if r.startedAt.IsZero() {
		r.startedAt = now
		r.curStart = now
	}
	if now.Sub(r.curStart) >= r.segmentDur && r.cur.Len() > 0 {
		r.rotateLocked()
		r.curStart = now
	}

	var hdr [13]byte
	hdr[0] = kind
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(now.UnixMicro()))
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(payload)))
	r.cur.Write(hdr[:])
	r.cur.Write(payload)
}

func (r *Recorder) rotateLocked() {
	seg := make([]byte, r.cur.Len())
	copy(seg, r.cur.Bytes())
	r.segments = append(r.segments, seg)
	r.cur.Reset()
	r.log.Debug().Int("segment", len(r.segments)).Int("bytes", len(seg)).Msg("segment rotated")
}

func (r *Recorder) SegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.segments)
	if r.cur.Len() > 0 {
		n++
	}
	return n
}

// Stop finalizes the recording exactly once; later calls return the same
// artifact.
func (r *Recorder) Stop() Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.artifact
	}
	r.stopped = true
	if r.cur.Len() > 0 {
		r.rotateLocked()
	}

	total := 0
	for _, seg := range r.segments {
		total += len(seg)
	}
	data := make([]byte, 0, total)
	for _, seg := range r.segments {
		data = append(data, seg...)
	}
	r.artifact = Artifact{
		Data:      data,
		Segments:  len(r.segments),
		StartedAt: r.startedAt,
		EndedAt:   r.now(),
	}
	r.segments = nil
	r.cur.Reset()
	r.log.Info().Int("segments", r.artifact.Segments).Int("bytes", len(data)).Msg("recording finalized")
	return r.artifact
}
