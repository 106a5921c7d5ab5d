package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
)

// Uploader hands the finished artifact to the hub; the pipeline falls back
// to a local save when the upload fails.
type Uploader interface {
	UploadRecording(ctx context.Context, sessionID domain.SessionID, r io.Reader) (string, error)
}

type Options struct {
	FPS             int
	SegmentDuration time.Duration
	Watermark       string
	OutputDir       string
	UploadTimeout   time.Duration
}

// Result reports where the artifact ended up: a hub URL, or a local path
// when upload failed.
type Result struct {
	URL       string
	LocalPath string
	Artifact  Artifact
}

// Pipeline wires sources -> mixer -> compositor -> recorder and owns their
// lifecycle. Stop is idempotent and also fires when the video source is
// revoked externally; either way every source and the draw loop are
// released exactly once.
type Pipeline struct {
	sessionID domain.SessionID
	mixer     *Mixer
	video     VideoSource
	comp      *Compositor
	rec       *Recorder
	uploader  Uploader
	opts      Options
	log       zerolog.Logger

	cancel   context.CancelFunc
	loops    sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	result  Result
	stopErr error
	started bool
	stopped bool
}

func NewPipeline(sessionID domain.SessionID, audio []AudioSource, video VideoSource, uploader Uploader, opts Options) *Pipeline {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	p := &Pipeline{
		sessionID: sessionID,
		mixer:     NewMixer(audio...),
		video:     video,
		rec:       NewRecorder(opts.SegmentDuration),
		uploader:  uploader,
		opts:      opts,
		log:       log.With().Str("module", "capture").Str("session", string(sessionID)).Logger(),
	}
	if video != nil {
		p.comp = NewCompositor(video, opts.Watermark, opts.FPS, func(frame *image.RGBA) {
			if err := p.rec.WriteVideoFrame(frame); err != nil {
				p.log.Error().Err(err).Msg("encode frame")
			}
		})
	}
	return p
}

// Start launches the capture loops. Missing sources degrade the recording
// (video-only or audio-only) instead of failing it.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	// Published under the lock: Stop may run concurrently and must observe
	// the cancel func.
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	if p.comp != nil {
		p.loops.Add(1)
		go func() {
			defer p.loops.Done()
			if err := p.comp.Run(runCtx); err == nil {
				// Source revoked from outside (browser chrome, device
				// unplug). Mandatory cleanup path: finalize everything.
				go p.Stop()
			}
		}()
	}

	if p.mixer.SourceCount() > 0 {
		p.loops.Add(1)
		go func() {
			defer p.loops.Done()
			ticker := time.NewTicker(time.Second * FrameSamples / SampleRate)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					frame, err := p.mixer.ReadFrame()
					if err != nil {
						return
					}
					p.rec.WriteAudioFrame(frame)
				}
			}
		}()
	}

	p.log.Info().Int("audio_sources", p.mixer.SourceCount()).Bool("video", p.video != nil).Msg("capture started")
	return nil
}

// Stop cancels the loops, stops every source, finalizes the artifact and
// hands it off. Safe to call from any state and any number of times.
func (p *Pipeline) Stop() (Result, error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.loops.Wait()
		if p.video != nil {
			p.video.Stop()
		}
		p.mixer.Stop()

		artifact := p.rec.Stop()
		res, err := p.deliver(artifact)

		p.mu.Lock()
		p.result, p.stopErr = res, err
		p.mu.Unlock()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.stopErr
}

func (p *Pipeline) deliver(artifact Artifact) (Result, error) {
	res := Result{Artifact: artifact}
	if len(artifact.Data) == 0 {
		return res, nil
	}

	if p.uploader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.UploadTimeout)
		defer cancel()
		url, err := p.uploader.UploadRecording(ctx, p.sessionID, bytes.NewReader(artifact.Data))
		if err == nil {
			res.URL = url
			p.log.Info().Str("url", url).Msg("recording uploaded")
			return res, nil
		}
		p.log.Error().Err(err).Msg("upload failed, saving locally")
	}

	dir := p.opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}
	name := fmt.Sprintf("%s-%d.scr", p.sessionID, artifact.StartedAt.Unix())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return res, err
	}
	res.LocalPath = path
	p.log.Info().Str("path", path).Msg("recording saved locally")
	return res, nil
}
