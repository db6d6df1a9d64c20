// Package main provides the ncmdump CLI for recovering audio from NCM containers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/crmmc/ncmdump/version"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    version.Name(),
		Usage:   "Decode NetEase Cloud Music .ncm files",
		Version: version.String(),
		Commands: []*cli.Command{
			decodeCommand(),
			infoCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)

		stop()
		os.Exit(1)
	}
}
