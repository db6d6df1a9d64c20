package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/crmmc/ncmdump"
	"github.com/crmmc/ncmdump/dump"
	"github.com/crmmc/ncmdump/probe"
)

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Print track metadata and stream format without writing anything",
		ArgsUsage: "<file>...",
		Action:    runInfo,
	}
}

func runInfo(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return errNoInput
	}

	w := cmd.Root().Writer
	if w == nil {
		w = os.Stdout
	}

	for i, path := range cmd.Args().Slice() {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}

		if err := printInfo(w, path); err != nil {
			return err
		}
	}

	return nil
}

func printInfo(w io.Writer, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // CLI tool reads user-specified files
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	res, err := ncmdump.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	m := res.Metadata

	_, _ = fmt.Fprintf(w, "file:        %s\n", path)
	_, _ = fmt.Fprintf(w, "title:       %s\n", m.Title())
	_, _ = fmt.Fprintf(w, "artist:      %s\n", strings.Join(m.Artists(), ", "))
	_, _ = fmt.Fprintf(w, "album:       %s\n", m.Album())
	_, _ = fmt.Fprintf(w, "duration:    %s\n", dump.FormatDuration(m.Duration()))
	_, _ = fmt.Fprintf(w, "format:      %s (%s)\n", res.Ext, res.MIME)
	_, _ = fmt.Fprintf(w, "cover:       %s, %d bytes\n", res.CoverMIME, len(res.Cover))
	_, _ = fmt.Fprintf(w, "audio bytes: %d\n", len(res.Audio))

	info, err := probe.Probe(res.Audio)
	if err != nil {
		_, _ = fmt.Fprintf(w, "stream:      %v\n", err)
		return nil
	}

	if info.SampleRate > 0 {
		_, _ = fmt.Fprintf(w, "sample rate: %d Hz\n", info.SampleRate)
		_, _ = fmt.Fprintf(w, "bit depth:   %d\n", info.BitsPerSample)
		_, _ = fmt.Fprintf(w, "channels:    %d\n", info.Channels)
		_, _ = fmt.Fprintf(w, "length:      %s\n", dump.FormatDuration(info.Duration))
	}

	return nil
}
