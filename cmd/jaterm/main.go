package main

import (
	"fmt"
	"os"

	"github.com/jaterm/jaterm/cmd/jaterm/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	code, report := cmd.ExitCode(err)
	if report {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}
