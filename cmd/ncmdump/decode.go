package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/crmmc/ncmdump/config"
	"github.com/crmmc/ncmdump/dump"
)

var (
	errNoInput    = errors.New("expected at least one file or directory")
	errNoNCMFiles = errors.New("no .ncm files found")
)

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode .ncm files to mp3/flac, writing tags and cover art",
		ArgsUsage: "<file|dir>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory (default: next to each input)",
			},
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "naming template using {title}, {artist}, {album}; empty keeps the input name",
			},
			&cli.BoolFlag{
				Name:  "no-tags",
				Usage: "do not write title, artist, album and cover into the audio",
			},
			&cli.BoolFlag{
				Name:  "cover",
				Usage: "also write the cover image next to the audio",
			},
			&cli.BoolFlag{
				Name:  "fetch-cover",
				Usage: "download the cover when the container has none",
			},
			&cli.BoolFlag{
				Name:    "overwrite",
				Aliases: []string{"f"},
				Usage:   "replace existing output files",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"j"},
				Usage:   "files decoded concurrently",
			},
			&cli.IntFlag{
				Name:  "decode-workers",
				Usage: "goroutines used to decode a single payload",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
		},
		Action: runDecode,
	}
}

// overrides maps explicitly set flags onto config keys.
func overrides(cmd *cli.Command) map[string]any {
	out := map[string]any{}

	set := func(flag, key string, value any) {
		if cmd.IsSet(flag) {
			out[key] = value
		}
	}

	set("output", "output_dir", cmd.String("output"))
	set("name", "naming_template", cmd.String("name"))
	set("no-tags", "embed_tags", !cmd.Bool("no-tags"))
	set("cover", "write_cover", cmd.Bool("cover"))
	set("fetch-cover", "fetch_cover", cmd.Bool("fetch-cover"))
	set("overwrite", "overwrite", cmd.Bool("overwrite"))
	set("workers", "workers", cmd.Int("workers"))
	set("decode-workers", "decode_workers", cmd.Int("decode-workers"))
	set("log-level", "log_level", cmd.String("log-level"))

	return out
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(cfg.Level())

	return log
}

func runDecode(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return errNoInput
	}

	cfg, err := config.Load(cmd.String("config"), overrides(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	files, err := dump.Collect(cmd.Args().Slice())
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return errNoNCMFiles
	}

	log := newLogger(cfg)
	log.Debugf("decoding %d files with %d workers", len(files), cfg.Workers)

	dumper := dump.New(cfg, LogrusAdapter{logrus.NewEntry(log)})

	summary, err := dumper.Run(ctx, files)
	log.WithField("decoded", summary.Decoded).WithField("failed", summary.Failed).Info("done")

	return err
}
