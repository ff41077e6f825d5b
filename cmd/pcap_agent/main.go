package main

import (
	"fmt"
	"os"

	"github.com/ceems-dev/pcapbench/pkg/agent"
)

func main() {
	app := agent.NewCLI()

	if err := app.Main(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
