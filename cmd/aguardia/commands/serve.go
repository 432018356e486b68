package commands

import (
	"github.com/spf13/cobra"

	"github.com/kirushik/aguardia-server/cmd/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(configPath)
		},
	}
}
