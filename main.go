package main

import (
	"fmt"
	"os"

	"github.com/BDNK1/plugpack/cmd"
	"github.com/BDNK1/plugpack/internal/pipeline"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(pipeline.ExitCode(err))
	}
}
