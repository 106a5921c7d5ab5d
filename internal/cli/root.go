package cli

import (
	"github.com/spf13/cobra"

	"github.com/stagecast/engine/internal/config"
)

const Version = "0.3.0"

type Dependencies struct {
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagecast",
		Short: "Headless live-event session client",
		Long:  "Joins a live-event session: peer media mesh, chat, polls, Q&A, file transfer and local recording, with state exposed over a local HTTP API.",
	}

	rootCmd.Version = Version

	rootCmd.AddCommand(NewJoinCmd(deps))
	rootCmd.AddCommand(NewSendFileCmd(deps))

	return rootCmd
}
