package main

import (
	"os"

	"github.com/kirushik/aguardia-server/cmd/aguardia/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
