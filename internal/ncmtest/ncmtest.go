// Package ncmtest builds synthetic NCM containers for tests.
package ncmtest

import (
	"bytes"
	"encoding/binary"

	"github.com/crmmc/ncmdump"
	"github.com/crmmc/ncmdump/ecb"
	"github.com/crmmc/ncmdump/keybox"
	"github.com/crmmc/ncmdump/meta"
)

// DefaultSeed is used when Container.Seed is nil.
//
//nolint:gochecknoglobals
var DefaultSeed = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

// Container describes a synthetic container.
type Container struct {
	// Seed is the keystream seed, without the 17-byte prefix.
	Seed []byte
	// Meta is wrapped with meta.Encode unless MetaBlob is set.
	Meta map[string]any
	// MetaBlob is the raw blob before the 0x63 XOR.
	MetaBlob []byte
	Cover    []byte
	// Audio is the plaintext payload.
	Audio []byte
}

// Build serializes c. It panics on cipher errors, which cannot happen with valid keys.
func Build(c Container) []byte {
	seed := c.Seed
	if seed == nil {
		seed = DefaultSeed
	}

	keyBlob, err := ecb.Encrypt(ncmdump.CoreKey(), append([]byte("neteasecloudmusic"), seed...))
	if err != nil {
		panic(err)
	}

	metaBlob := c.MetaBlob
	if metaBlob == nil && c.Meta != nil {
		if metaBlob, err = meta.Encode(c.Meta); err != nil {
			panic(err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(ncmdump.Magic)
	buf.Write([]byte{0x01, 0x70})
	writeField(&buf, xor(keyBlob, 0x64))
	writeField(&buf, xor(metaBlob, 0x63))
	buf.Write(make([]byte, 9))
	writeField(&buf, c.Cover)
	buf.Write(Encrypt(seed, c.Audio))

	return buf.Bytes()
}

// KeyBlob returns the raw key blob field for an arbitrary plaintext, XORed with 0x64.
func KeyBlob(plain []byte) []byte {
	enc, err := ecb.Encrypt(ncmdump.CoreKey(), plain)
	if err != nil {
		panic(err)
	}

	return xor(enc, 0x64)
}

// Encrypt applies the keystream derived from seed to plain.
func Encrypt(seed, plain []byte) []byte {
	box, err := keybox.New(seed)
	if err != nil {
		panic(err)
	}

	out := make([]byte, len(plain))
	box.XOR(out, plain, 0)

	return out
}

// Field returns a length-prefixed field.
func Field(data []byte) []byte {
	var buf bytes.Buffer
	writeField(&buf, data)

	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data))) //nolint:gosec // test data is small
	buf.Write(data)
}

func xor(src []byte, k byte) []byte {
	out := make([]byte, len(src))
	for i, b := range src {
		out[i] = b ^ k
	}

	return out
}

// StreamInfo describes the STREAMINFO block written by FLAC.
type StreamInfo struct {
	SampleRate    uint32
	Channels      uint8
	BitsPerSample uint8
	Samples       uint64
}

// FLAC returns a FLAC stream holding only a STREAMINFO block followed by frames.
func FLAC(si StreamInfo, frames []byte) []byte {
	const blockSize = 4096

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	// Last metadata block, type 0, length 34.
	buf.Write([]byte{0x80, 0x00, 0x00, 34})
	_ = binary.Write(&buf, binary.BigEndian, uint16(blockSize))
	_ = binary.Write(&buf, binary.BigEndian, uint16(blockSize))
	buf.Write(make([]byte, 6))

	packed := uint64(si.SampleRate)<<44 |
		uint64(si.Channels-1)<<41 |
		uint64(si.BitsPerSample-1)<<36 |
		si.Samples&(1<<36-1)
	_ = binary.Write(&buf, binary.BigEndian, packed)
	buf.Write(make([]byte, 16))
	buf.Write(frames)

	return buf.Bytes()
}
