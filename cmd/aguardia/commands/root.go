package commands

import (
	"github.com/spf13/cobra"

	"github.com/kirushik/aguardia-server/cmd/internal/app"
)

var configPath string

func Execute() error {
	root := &cobra.Command{
		Use:          "aguardia",
		Short:        "Encrypted real-time relay for users and devices",
		Version:      app.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(configPath)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (default "+app.DefaultConfigPath+" if present)")

	root.AddCommand(serveCmd(), keygenCmd())
	return root.Execute()
}
