// Package probe reads stream properties from decoded audio.
package probe

import (
	"bytes"
	"fmt"
	"time"

	goflac "github.com/mewkiz/flac"

	"github.com/crmmc/ncmdump/sniff"
)

// Info describes a decoded stream. Zero fields are unknown.
type Info struct {
	Codec         sniff.Codec
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

// Probe inspects audio. Only FLAC streams carry stream properties; other
// codecs report the codec alone.
func Probe(audio []byte) (Info, error) {
	info := Info{Codec: sniff.Audio(audio)}
	if info.Codec != sniff.FLAC {
		return info, nil
	}

	stream, err := goflac.New(bytes.NewReader(audio))
	if err != nil {
		return info, fmt.Errorf("reading flac stream info: %w", err)
	}
	defer stream.Close()

	si := stream.Info
	info.SampleRate = int(si.SampleRate)
	info.Channels = int(si.NChannels)
	info.BitsPerSample = int(si.BitsPerSample)

	if si.SampleRate > 0 {
		info.Duration = time.Duration(si.NSamples) * time.Second / time.Duration(si.SampleRate)
	}

	return info, nil
}
