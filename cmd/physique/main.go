// Package main is the entrypoint for the physique CLI.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/kiranshivaraju/physique/internal/cli"
)

const version = "0.1.0"

func main() {
	root := cli.NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
