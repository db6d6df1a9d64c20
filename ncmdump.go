// Package ncmdump recovers the audio stream, cover image and track metadata
// from NCM containers held in memory.
package ncmdump

import (
	"bytes"
	"fmt"

	"github.com/crmmc/ncmdump/ecb"
	"github.com/crmmc/ncmdump/keybox"
	"github.com/crmmc/ncmdump/meta"
	"github.com/crmmc/ncmdump/sniff"
)

// Magic is the 8-byte container signature.
const Magic = "CTENFDAM"

const (
	keyXOR  = 0x64
	metaXOR = 0x63
	// seedSkip is len("neteasecloudmusic"), prepended to the keystream seed.
	seedSkip = 17
	// magicGap is an unvalidated field following the signature.
	magicGap = 2
	// imageGap is a CRC32 followed by 5 reserved bytes.
	imageGap = 4 + 5
)

//nolint:gochecknoglobals
var coreKey = [16]byte{0x68, 0x7A, 0x48, 0x52, 0x41, 0x6D, 0x73, 0x6F, 0x35, 0x6B, 0x49, 0x6E, 0x62, 0x61, 0x78, 0x57}

// CoreKey returns the fixed AES key that wraps the keystream seed.
func CoreKey() [16]byte {
	return coreKey
}

// ProgressFunc receives a decode percentage in [0, 100].
type ProgressFunc = keybox.ProgressFunc

// Result is everything recovered from one container.
type Result struct {
	Audio     []byte
	Metadata  meta.Metadata
	Cover     []byte
	CoverMIME string
	// MIME is the audio MIME type, audio/flac or audio/mpeg.
	MIME string
	// Ext is the audio file extension without a dot.
	Ext string
}

type options struct {
	progress ProgressFunc
	workers  int
}

// Option configures Decode.
type Option func(*options)

// WithProgress sets a callback invoked while the audio payload is decoded.
// A returned error aborts Decode.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithWorkers decodes the audio payload on up to n goroutines.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Sniff reports whether data starts with the container signature.
func Sniff(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

type state uint8

const (
	stateMagic state = iota
	stateKeyBlob
	stateMetaBlob
	stateGapAndImageSize
	stateImage
	stateAudio
	stateDone
)

func (s state) String() string {
	switch s {
	case stateMagic:
		return "magic"
	case stateKeyBlob:
		return "key blob"
	case stateMetaBlob:
		return "metadata blob"
	case stateGapAndImageSize:
		return "image size"
	case stateImage:
		return "image"
	case stateAudio:
		return "audio"
	case stateDone:
		return "done"
	}

	return "unknown"
}

type parser struct {
	cur  cursor
	opts options

	imageSize uint32
	box       *keybox.Box
	res       Result
}

// Decode parses data and decrypts every field. data is never modified and
// the returned buffers never alias it. On error no partial result is returned.
func Decode(data []byte, opts ...Option) (*Result, error) {
	p := &parser{cur: cursor{data: data}, opts: options{workers: 1}}
	for _, opt := range opts {
		opt(&p.opts)
	}

	for st := stateMagic; st != stateDone; {
		next, err := p.step(st)
		if err != nil {
			return nil, err
		}

		st = next
	}

	return &p.res, nil
}

func (p *parser) step(st state) (state, error) {
	switch st {
	case stateMagic:
		return p.magic()
	case stateKeyBlob:
		return p.keyBlob()
	case stateMetaBlob:
		return p.metaBlob()
	case stateGapAndImageSize:
		return p.gapAndImageSize()
	case stateImage:
		return p.image()
	case stateAudio:
		return p.audio()
	case stateDone:
	}

	return stateDone, nil
}

func (p *parser) magic() (state, error) {
	sig, next, err := p.cur.take(stateMagic, uint64(len(Magic)))
	if err != nil || string(sig) != Magic {
		return 0, ErrFormat
	}

	p.cur, err = next.skip(stateMagic, magicGap)
	if err != nil {
		return 0, err
	}

	return stateKeyBlob, nil
}

func (p *parser) keyBlob() (state, error) {
	blob, next, err := p.cur.lengthPrefixed(stateKeyBlob)
	if err != nil {
		return 0, err
	}

	p.cur = next

	seed, err := ecb.Decrypt(coreKey, xor(blob, keyXOR))
	if err != nil {
		return 0, fmt.Errorf("key blob: %w", err)
	}

	if len(seed) <= seedSkip {
		return 0, fmt.Errorf("key blob: %w: %d bytes decrypted", ErrInvalidSeed, len(seed))
	}

	p.box, err = keybox.New(seed[seedSkip:])
	if err != nil {
		return 0, fmt.Errorf("key blob: %w", err)
	}

	return stateMetaBlob, nil
}

func (p *parser) metaBlob() (state, error) {
	blob, next, err := p.cur.lengthPrefixed(stateMetaBlob)
	if err != nil {
		return 0, err
	}

	p.cur = next
	p.res.Metadata = meta.Decode(xor(blob, metaXOR))

	return stateGapAndImageSize, nil
}

func (p *parser) gapAndImageSize() (state, error) {
	next, err := p.cur.skip(stateGapAndImageSize, imageGap)
	if err != nil {
		return 0, err
	}

	p.imageSize, p.cur, err = next.uint32(stateGapAndImageSize)
	if err != nil {
		return 0, err
	}

	return stateImage, nil
}

func (p *parser) image() (state, error) {
	img, next, err := p.cur.take(stateImage, uint64(p.imageSize))
	if err != nil {
		return 0, err
	}

	p.cur = next
	p.res.Cover = bytes.Clone(img)
	p.res.CoverMIME = sniff.Image(img)

	return stateAudio, nil
}

func (p *parser) audio() (state, error) {
	audio, err := p.box.Decode(p.cur.rest(),
		keybox.WithProgress(p.opts.progress),
		keybox.WithWorkers(p.opts.workers),
	)
	if err != nil {
		return 0, fmt.Errorf("audio: %w", err)
	}

	p.res.Audio = audio

	p.res.Ext = p.res.Metadata.Format()
	if p.res.Ext == "" {
		p.res.Ext = sniff.AudioExt(audio)
	}

	p.res.MIME = sniff.AudioMIME(p.res.Ext)
	p.cur.off = len(p.cur.data)

	return stateDone, nil
}

func xor(src []byte, k byte) []byte {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ k
	}

	return out
}
