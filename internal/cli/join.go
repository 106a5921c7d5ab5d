package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stagecast/engine/internal/api"
	"github.com/stagecast/engine/internal/capture"
	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/engine"
	"github.com/stagecast/engine/internal/hubapi"
	"github.com/stagecast/engine/internal/mesh"
	"github.com/stagecast/engine/internal/signal"
)

func NewJoinCmd(deps *Dependencies) *cobra.Command {
	var (
		sessionID string
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = deps.Config.SessionID
			}
			if sessionID == "" {
				return errors.New("session id required (--session or config)")
			}
			return runJoin(cmd.Context(), deps, domain.SessionID(sessionID), record)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to join")
	cmd.Flags().BoolVar(&record, "record", false, "Record a watermarked composite locally")

	return cmd
}

func runJoin(ctx context.Context, deps *Dependencies, sessionID domain.SessionID, record bool) error {
	cfg := deps.Config

	self, err := domain.NewParticipant(cfg.DisplayName, domain.Role(cfg.Role))
	if err != nil {
		return err
	}

	hub := hubapi.NewClient(cfg.HubURL, cfg.Token)
	tx := signal.NewClient(cfg.RelayURL, cfg.Token, sessionID, self.ID)

	eng := engine.New(tx, engine.Options{
		SessionID:      sessionID,
		Self:           *self,
		WebRTC:         mesh.DefaultWebRTCConfig(cfg.StunServers),
		ConfirmTimeout: cfg.ConfirmTimeout,
		ChunkSize:      cfg.ChunkSize,
		PaceEvery:      cfg.PaceEvery,
		PaceDelay:      cfg.PaceDelay,
		FileSink: func(meta domain.FileMeta, data []byte) {
			log.Info().Str("module", "cli").Str("file", meta.Name).Int("bytes", len(data)).Msg("file received")
		},
	})

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stagecast")
	if err != nil {
		return err
	}
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "stagecast")
	if err != nil {
		return err
	}
	eng.SetLocalTracks(audioTrack, videoTrack)

	var pipeline *capture.Pipeline
	if record {
		pipeline = capture.NewPipeline(sessionID,
			[]capture.AudioSource{capture.NewToneSource(440, 0.1)},
			capture.NewTestPatternSource(capture.DefaultWidth, capture.DefaultHeight),
			hub,
			capture.Options{
				FPS:             cfg.FPS,
				SegmentDuration: cfg.SegmentDuration,
				Watermark:       cfg.Watermark,
				OutputDir:       cfg.OutputDir,
			})
		if err := pipeline.Start(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{Addr: cfg.APIAddr, Handler: api.SetupRouter(cfg, eng)}
	go func() {
		log.Info().Str("module", "cli").Str("addr", cfg.APIAddr).Msg("status API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status API error")
		}
	}()

	// Seed persisted chat once connected; live pushes dedupe against it.
	go func() {
		history, err := hub.FullChatHistory(ctx, sessionID, 50)
		if err != nil {
			log.Warn().Err(err).Msg("chat history unavailable")
			return
		}
		eng.Chat().Seed(history)
	}()

	runErr := eng.Run(ctx)

	if pipeline != nil {
		res, err := pipeline.Stop()
		if err != nil {
			log.Error().Err(err).Msg("finalize recording")
		} else if res.URL != "" {
			fmt.Println("recording uploaded:", res.URL)
		} else if res.LocalPath != "" {
			fmt.Println("recording saved:", res.LocalPath)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status API forced to shutdown")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
