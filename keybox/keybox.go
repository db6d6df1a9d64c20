// Package keybox derives the NCM substitution box from a keystream seed and
// applies the resulting keystream to the audio payload.
package keybox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidSeed is returned when the keystream seed is empty.
var ErrInvalidSeed = errors.New("keybox: empty seed")

// ChunkSize is the payload granularity for progress reports and parallel ranges.
const ChunkSize = 0x8000

// Box is a 256-entry permutation. It is read-only once built and safe for concurrent use.
type Box struct {
	box [256]byte
}

// New runs a single key-scheduling pass over seed.
func New(seed []byte) (*Box, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}

	b := &Box{}
	for i := range b.box {
		b.box[i] = byte(i)
	}

	var last byte
	for i := 0; i < 256; i++ {
		last = b.box[i] + last + seed[i%len(seed)]
		b.box[i], b.box[last] = b.box[last], b.box[i]
	}

	return b, nil
}

// Permutation returns a copy of the box.
func (b *Box) Permutation() [256]byte {
	return b.box
}

// KeyByte returns the keystream byte for payload index i.
func (b *Box) KeyByte(i int) byte {
	j := byte(i + 1)
	return b.box[b.box[j]+b.box[b.box[j]+j]]
}

// XOR writes src XOR keystream into dst, treating src[0] as payload index offset.
// dst and src may overlap exactly.
func (b *Box) XOR(dst, src []byte, offset int) {
	for i := range src {
		dst[i] = src[i] ^ b.KeyByte(offset+i)
	}
}

// ProgressFunc receives a completion percentage in [0, 100]. Returning an
// error aborts the decode.
type ProgressFunc func(percent float64) error

type decodeOptions struct {
	progress ProgressFunc
	workers  int
}

// DecodeOption configures Decode.
type DecodeOption func(*decodeOptions)

// WithProgress reports progress once per ChunkSize bytes and once at completion.
func WithProgress(fn ProgressFunc) DecodeOption {
	return func(o *decodeOptions) { o.progress = fn }
}

// WithWorkers decodes ChunkSize ranges on up to n goroutines.
func WithWorkers(n int) DecodeOption {
	return func(o *decodeOptions) { o.workers = n }
}

// Decode returns a newly allocated plaintext of the same length as src.
func (b *Box) Decode(src []byte, opts ...DecodeOption) ([]byte, error) {
	o := decodeOptions{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}

	dst := make([]byte, len(src))

	var err error
	if o.workers > 1 && len(src) > ChunkSize {
		err = b.decodeParallel(dst, src, o)
	} else {
		err = b.decodeSequential(dst, src, o.progress)
	}

	if err != nil {
		return nil, err
	}

	if o.progress != nil {
		if err := o.progress(100); err != nil {
			return nil, fmt.Errorf("progress: %w", err)
		}
	}

	return dst, nil
}

func (b *Box) decodeSequential(dst, src []byte, progress ProgressFunc) error {
	total := float64(len(src))

	for off := 0; off < len(src); off += ChunkSize {
		if progress != nil {
			if err := progress(float64(off) / total * 100); err != nil {
				return fmt.Errorf("progress: %w", err)
			}
		}

		end := min(off+ChunkSize, len(src))
		b.XOR(dst[off:end], src[off:end], off)
	}

	return nil
}

func (b *Box) decodeParallel(dst, src []byte, o decodeOptions) error {
	group, ctx := errgroup.WithContext(context.Background())
	group.SetLimit(o.workers)

	var (
		mu   sync.Mutex
		done int
	)

	total := float64(len(src))

	for off := 0; off < len(src); off += ChunkSize {
		if ctx.Err() != nil {
			break
		}

		group.Go(func() error {
			end := min(off+ChunkSize, len(src))
			b.XOR(dst[off:end], src[off:end], off)

			if o.progress == nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			// Percentage of bytes finished before this range, matching the sequential report.
			pct := float64(done) / total * 100
			done += end - off

			if err := o.progress(pct); err != nil {
				return fmt.Errorf("progress: %w", err)
			}

			return nil
		})
	}

	return group.Wait()
}
