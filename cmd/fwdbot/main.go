package main

import (
	"fmt"
	"os"

	"fwdbot/cmd/fwdbot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
