package main

import (
	"context"
	"os"

	"github.com/loomci/loom"
	"github.com/loomci/loom/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "loom",
		Usage: "workflow execution engine",
		Commands: []*cli.Command{
			loom.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("loom")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
