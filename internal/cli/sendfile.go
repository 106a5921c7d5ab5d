package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/engine"
	"github.com/stagecast/engine/internal/mesh"
	"github.com/stagecast/engine/internal/signal"
)

func NewSendFileCmd(deps *Dependencies) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "send-file <path>",
		Short: "Send a file to every session participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if sessionID == "" {
				sessionID = cfg.SessionID
			}
			if sessionID == "" {
				return errors.New("session id required (--session or config)")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			mimeType := mime.TypeByExtension(filepath.Ext(name))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}

			self, err := domain.NewParticipant(cfg.DisplayName, domain.Role(cfg.Role))
			if err != nil {
				return err
			}
			tx := signal.NewClient(cfg.RelayURL, cfg.Token, domain.SessionID(sessionID), self.ID)
			eng := engine.New(tx, engine.Options{
				SessionID:      domain.SessionID(sessionID),
				Self:           *self,
				WebRTC:         mesh.DefaultWebRTCConfig(cfg.StunServers),
				ConfirmTimeout: cfg.ConfirmTimeout,
				ChunkSize:      cfg.ChunkSize,
				PaceEvery:      cfg.PaceEvery,
				PaceDelay:      cfg.PaceDelay,
			})

			ctx := cmd.Context()
			if err := tx.Connect(ctx); err != nil {
				return err
			}
			defer tx.Close()

			id, err := eng.SendFile(ctx, name, mimeType, data)
			if err != nil {
				return err
			}
			fmt.Printf("sent %s (%d bytes) as transfer %s\n", name, len(data), id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")

	return cmd
}
