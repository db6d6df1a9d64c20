// Package dump decodes NCM files on disk and writes the recovered audio,
// tagged, next to them or into an output directory.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/crmmc/ncmdump"
	"github.com/crmmc/ncmdump/config"
	"github.com/crmmc/ncmdump/sniff"
	"github.com/crmmc/ncmdump/tag"
)

// Ext is the extension of NCM containers.
const Ext = ".ncm"

const (
	fetchTimeout = 30 * time.Second
	fetchRetries = 3
	// maxCoverSize bounds downloaded covers.
	maxCoverSize = 16 << 20
)

var (
	// ErrFailed is returned by Run when at least one file could not be dumped.
	ErrFailed = errors.New("dump: some files failed")
	// ErrExists is returned when an output file exists and overwriting is disabled.
	ErrExists = errors.New("dump: output exists")

	errRemoteStatus  = errors.New("remote returned unexpected status")
	errCoverTooLarge = errors.New("cover exceeds size limit")

	// safeExt bounds extensions taken from container metadata.
	safeExt = regexp.MustCompile(`^[a-z0-9]{1,5}$`)
)

// Output describes the files written for one container.
type Output struct {
	Input string
	Audio string
	// Cover is empty unless a cover file was written.
	Cover  string
	Result *ncmdump.Result
}

// Summary counts the outcome of Run.
type Summary struct {
	Decoded int
	Failed  int
}

// Dumper writes decoded containers to disk.
type Dumper struct {
	cfg        *config.Config
	log        Logger
	client     *http.Client
	newBackOff func() backoff.BackOff
	maxCover   int64
}

// Option configures a Dumper.
type Option func(*Dumper)

// WithHTTPClient sets the client used to download covers.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dumper) { d.client = c }
}

// WithBackOff sets the retry policy for cover downloads.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(d *Dumper) { d.newBackOff = fn }
}

// WithMaxCoverSize bounds downloaded covers; larger bodies are rejected.
func WithMaxCoverSize(n int64) Option {
	return func(d *Dumper) { d.maxCover = n }
}

// New returns a Dumper. A nil log discards output.
func New(cfg *config.Config, log Logger, opts ...Option) *Dumper {
	if log == nil {
		log = &NullLogger{}
	}

	d := &Dumper{
		cfg:      cfg,
		log:      log,
		client:   &http.Client{Timeout: fetchTimeout},
		maxCover: maxCoverSize,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries)
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Collect expands paths into NCM files. Directories are read one level deep.
func Collect(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, entry := range entries {
			if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), Ext) {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	}

	return files, nil
}

// Run dumps files concurrently. Failures are logged and counted; they do not
// stop the remaining files unless ctx is cancelled.
func (d *Dumper) Run(ctx context.Context, files []string) (Summary, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)

	var (
		mu      sync.Mutex
		summary Summary
	)

	for _, file := range files {
		if groupCtx.Err() != nil {
			break
		}

		group.Go(func() error {
			log := d.log.WithField("file", file)

			out, err := d.DumpFile(groupCtx, file)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				summary.Failed++
				log.WithError(err).Errorf("failed dumping %s", file)

				return nil
			}

			summary.Decoded++
			log.Infof("decoded %s to %s", file, out.Audio)

			return nil
		})
	}

	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%w: %d of %d", ErrFailed, summary.Failed, len(files))
	}

	return summary, nil
}

// DumpFile decodes one container and writes its outputs.
func (d *Dumper) DumpFile(ctx context.Context, path string) (*Output, error) {
	log := d.log.WithField("file", path)

	data, err := os.ReadFile(path) //nolint:gosec // CLI tool reads user-specified files
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	res, err := ncmdump.Decode(data,
		ncmdump.WithWorkers(d.cfg.DecodeWorkers),
		ncmdump.WithProgress(func(p float64) error {
			log.Tracef("decoding %.0f%%", p)
			return ctx.Err()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	cover := res.Cover
	if len(cover) == 0 && d.cfg.FetchCover && res.Metadata.AlbumPic() != "" {
		cover, err = d.fetchCover(ctx, res.Metadata.AlbumPic())
		if err != nil {
			log.WithError(err).Warnf("failed downloading cover from %s", res.Metadata.AlbumPic())
		}
	}

	ext := outputExt(res)

	audio := res.Audio
	if d.cfg.EmbedTags && tag.Supported(ext) {
		info := tag.FromResult(res)
		info.Cover = nonEmpty(cover)

		tagged, err := tag.Embed(audio, ext, info)
		if err != nil {
			log.WithError(err).Warnf("failed writing tags, keeping untagged audio")
		} else {
			audio = tagged
		}
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := FormatName(d.cfg.NamingTemplate, res.Metadata, base)

	dir := d.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(path)
	}

	out := &Output{Input: path, Result: res, Audio: filepath.Join(dir, name+"."+ext)}
	if err := d.write(out.Audio, audio); err != nil {
		return nil, err
	}

	if d.cfg.WriteCover && len(cover) > 0 {
		out.Cover = filepath.Join(dir, name+sniff.ImageExt(sniff.Image(cover)))
		if err := d.write(out.Cover, cover); err != nil {
			if rmErr := os.Remove(out.Audio); rmErr != nil {
				log.WithError(rmErr).Warnf("failed removing %s", out.Audio)
			}

			return nil, err
		}
	}

	return out, nil
}

func (d *Dumper) write(path string, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !d.cfg.Overwrite {
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // output files are meant to be readable
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	return nil
}

func (d *Dumper) fetchCover(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %d", errRemoteStatus, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%w: %d", errRemoteStatus, resp.StatusCode))
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, d.maxCover+1))
		if err != nil {
			return err
		}

		if int64(len(data)) > d.maxCover {
			data = nil
			return backoff.Permanent(fmt.Errorf("%w: more than %d bytes", errCoverTooLarge, d.maxCover))
		}

		return nil
	}

	notify := func(err error, next time.Duration) {
		d.log.WithError(err).Debugf("retrying cover download in %s", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(d.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}

	return data, nil
}

// outputExt returns the metadata format when it is a plain extension and the
// sniffed one otherwise, so metadata cannot steer the output path.
func outputExt(res *ncmdump.Result) string {
	if safeExt.MatchString(res.Ext) {
		return res.Ext
	}

	return sniff.AudioExt(res.Audio)
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}
