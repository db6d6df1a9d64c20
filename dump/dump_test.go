package dump_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bogem/id3v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/crmmc/ncmdump/config"
	"github.com/crmmc/ncmdump/dump"
	"github.com/crmmc/ncmdump/internal/ncmtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var mpegPayload = []byte{0xFF, 0xFB, 0x90, 0x64, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("", map[string]any{"output_dir": t.TempDir()})
	require.NoError(t, err)

	return cfg
}

func writeContainer(t *testing.T, dir, name string, c ncmtest.Container) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, ncmtest.Build(c), 0o600))

	return path
}

func track(title string) ncmtest.Container {
	return ncmtest.Container{
		Meta: map[string]any{
			"musicName": title,
			"artist":    [][]any{{"A", 1}, {"B", 2}},
			"album":     "Record",
			"format":    "mp3",
		},
		Cover: []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3},
		Audio: mpegPayload,
	}
}

func TestDumpFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteCover = true

	in := writeContainer(t, t.TempDir(), "song.ncm", track("Song"))

	out, err := dump.New(cfg, nil).DumpFile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Song - A, B.mp3"), out.Audio)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Song - A, B.jpg"), out.Cover)

	audio, err := os.ReadFile(out.Audio)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(audio, mpegPayload))

	parsed, err := id3v2.ParseReader(bytes.NewReader(audio), id3v2.Options{Parse: true})
	require.NoError(t, err)
	assert.Equal(t, "Song", parsed.GetTextFrame("TIT2").Text)

	cover, err := os.ReadFile(out.Cover)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}, cover)
}

func TestDumpFileWithoutTags(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbedTags = false
	cfg.NamingTemplate = ""

	in := writeContainer(t, t.TempDir(), "raw name.ncm", track("Song"))

	out, err := dump.New(cfg, nil).DumpFile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "raw name.mp3"), out.Audio)
	assert.Empty(t, out.Cover)

	audio, err := os.ReadFile(out.Audio)
	require.NoError(t, err)
	assert.Equal(t, mpegPayload, audio)
}

func TestDumpFileExists(t *testing.T) {
	cfg := testConfig(t)
	in := writeContainer(t, t.TempDir(), "song.ncm", track("Song"))
	d := dump.New(cfg, nil)

	_, err := d.DumpFile(context.Background(), in)
	require.NoError(t, err)

	_, err = d.DumpFile(context.Background(), in)
	require.ErrorIs(t, err, dump.ErrExists)

	cfg.Overwrite = true
	_, err = d.DumpFile(context.Background(), in)
	require.NoError(t, err)
}

func TestDumpFileUnsafeFormat(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(root, "out")
	require.NoError(t, os.Mkdir(cfg.OutputDir, 0o700))

	c := track("Song")
	c.Meta["format"] = "mp3/../../escaped"
	in := writeContainer(t, t.TempDir(), "song.ncm", c)

	out, err := dump.New(cfg, nil).DumpFile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Song - A, B.mp3"), out.Audio)
	assert.Equal(t, "mp3/../../escaped", out.Result.Ext)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing is written outside the output directory")
	assert.Equal(t, "out", entries[0].Name())
}

func TestDumpFileCoverWriteFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteCover = true

	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "Song - A, B.jpg"), nil, 0o600))

	in := writeContainer(t, t.TempDir(), "song.ncm", track("Song"))

	_, err := dump.New(cfg, nil).DumpFile(context.Background(), in)
	require.ErrorIs(t, err, dump.ErrExists)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "Song - A, B.mp3"))
}

func TestDumpFileNotNCM(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "fake.ncm")
	require.NoError(t, os.WriteFile(path, []byte("ID3 definitely not ncm"), 0o600))

	_, err := dump.New(cfg, nil).DumpFile(context.Background(), path)
	assert.Error(t, err)
}

func TestDumpFileCancelled(t *testing.T) {
	cfg := testConfig(t)
	in := writeContainer(t, t.TempDir(), "song.ncm", track("Song"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dump.New(cfg, nil).DumpFile(ctx, in)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	a := writeContainer(t, dir, "a.ncm", track("A"))
	b := writeContainer(t, dir, "B.NCM", track("B"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.ncm"), 0o700))

	single := writeContainer(t, t.TempDir(), "single.ncm", track("S"))

	files, err := dump.Collect([]string{dir, single})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b, single}, files)

	_, err = dump.Collect([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 2

	dir := t.TempDir()
	writeContainer(t, dir, "1.ncm", track("One"))
	writeContainer(t, dir, "2.ncm", track("Two"))
	writeContainer(t, dir, "3.ncm", track("Three"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.ncm"), []byte("CTENFDAM"), 0o600))

	files, err := dump.Collect([]string{dir})
	require.NoError(t, err)
	require.Len(t, files, 4)

	summary, err := dump.New(cfg, nil).Run(context.Background(), files)
	require.ErrorIs(t, err, dump.ErrFailed)
	assert.Equal(t, dump.Summary{Decoded: 3, Failed: 1}, summary)

	for _, name := range []string{"One", "Two", "Three"} {
		assert.FileExists(t, filepath.Join(cfg.OutputDir, name+" - A, B.mp3"))
	}
}

func TestRunAllSucceed(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	writeContainer(t, dir, "1.ncm", track("One"))

	files, err := dump.Collect([]string{dir})
	require.NoError(t, err)

	summary, err := dump.New(cfg, nil).Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, dump.Summary{Decoded: 1}, summary)
}

func noRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestFetchCover(t *testing.T) {
	cover := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(cover)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FetchCover = true
	cfg.WriteCover = true
	cfg.EmbedTags = false

	c := track("Remote")
	c.Cover = nil
	c.Meta["albumPic"] = srv.URL + "/cover.png"
	in := writeContainer(t, t.TempDir(), "remote.ncm", c)

	d := dump.New(cfg, nil, dump.WithHTTPClient(srv.Client()), dump.WithBackOff(noRetry))

	out, err := d.DumpFile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, filepath.Join(cfg.OutputDir, "Remote - A, B.png"), out.Cover)

	got, err := os.ReadFile(out.Cover)
	require.NoError(t, err)
	assert.Equal(t, cover, got)
}

func TestFetchCoverNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FetchCover = true
	cfg.WriteCover = true

	c := track("Missing")
	c.Cover = nil
	c.Meta["albumPic"] = srv.URL + "/cover.png"
	in := writeContainer(t, t.TempDir(), "missing.ncm", c)

	d := dump.New(cfg, nil, dump.WithHTTPClient(srv.Client()), dump.WithBackOff(noRetry))

	out, err := d.DumpFile(context.Background(), in)
	require.NoError(t, err, "cover download failures are not fatal")
	assert.Equal(t, int32(1), hits.Load(), "4xx is not retried")
	assert.Empty(t, out.Cover)
	assert.FileExists(t, out.Audio)
}

func TestFetchCoverTooLarge(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(bytes.Repeat([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 8))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FetchCover = true
	cfg.WriteCover = true

	c := track("Large")
	c.Cover = nil
	c.Meta["albumPic"] = srv.URL + "/cover.jpg"
	in := writeContainer(t, t.TempDir(), "large.ncm", c)

	d := dump.New(cfg, nil,
		dump.WithHTTPClient(srv.Client()),
		dump.WithBackOff(noRetry),
		dump.WithMaxCoverSize(16),
	)

	out, err := d.DumpFile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "oversized bodies are not retried")
	assert.Empty(t, out.Cover)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, "Large - A, B.jpg"))
}

func TestFetchCoverAtLimit(t *testing.T) {
	cover := bytes.Repeat([]byte{0xFF, 0xD8, 0xFF, 0xE0}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(cover)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FetchCover = true
	cfg.WriteCover = true
	cfg.EmbedTags = false

	c := track("Exact")
	c.Cover = nil
	c.Meta["albumPic"] = srv.URL + "/cover.jpg"
	in := writeContainer(t, t.TempDir(), "exact.ncm", c)

	d := dump.New(cfg, nil,
		dump.WithHTTPClient(srv.Client()),
		dump.WithBackOff(noRetry),
		dump.WithMaxCoverSize(int64(len(cover))),
	)

	out, err := d.DumpFile(context.Background(), in)
	require.NoError(t, err)

	got, err := os.ReadFile(out.Cover)
	require.NoError(t, err)
	assert.Equal(t, cover, got)
}
