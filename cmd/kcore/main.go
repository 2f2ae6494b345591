package main

import (
	"fmt"
	"os"

	"github.com/tinykern/kcore/cmd/kcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
