package main

import (
	"os"

	"github.com/Chase-Garrett/sealedchat/cmd/sealedchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
