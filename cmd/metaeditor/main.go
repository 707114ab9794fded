package main

import (
	"os"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

func main() {
	root := newRootCommand()
	err := root.Execute()
	_ = zap.L().Sync()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		os.Exit(1)
	}
}
