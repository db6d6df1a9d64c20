// Package meta decodes the JSON track record embedded in an NCM container.
package meta

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/crmmc/ncmdump/ecb"
)

const (
	// Prefix precedes the base64 text of the metadata blob.
	Prefix = "163 key(Don't modify):"
	// jsonPrefix precedes the JSON document once decrypted.
	jsonPrefix = "music:"
)

var errTrailingData = errors.New("json: trailing data")

//nolint:gochecknoglobals
var metaKey = [16]byte{0x23, 0x31, 0x34, 0x6C, 0x6A, 0x6B, 0x5F, 0x21, 0x5C, 0x5D, 0x26, 0x30, 0x55, 0x3C, 0x27, 0x28}

// Key returns the fixed AES key of the metadata blob.
func Key() [16]byte {
	return metaKey
}

// Metadata is the decoded record. No field is guaranteed to be present.
type Metadata map[string]any

// Decode decodes a blob that has already been XORed with 0x63.
// Any malformed step yields an empty record.
func Decode(blob []byte) Metadata {
	return DecodeWithKey(metaKey, blob)
}

// DecodeWithKey is Decode with an explicit cipher key.
func DecodeWithKey(key [16]byte, blob []byte) Metadata {
	m, err := decode(key, blob)
	if err != nil {
		return Metadata{}
	}

	return m
}

func decode(key [16]byte, blob []byte) (Metadata, error) {
	text := strings.TrimPrefix(string(blob), Prefix)

	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	plain, err := ecb.Decrypt(key, raw)
	if err != nil {
		return nil, err
	}

	plain = bytes.TrimPrefix(plain, []byte(jsonPrefix))

	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()

	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}

	if m == nil {
		return Metadata{}, nil
	}

	return m, nil
}

// Encode wraps a record the way Decode expects it, before the 0x63 XOR.
func Encode(m map[string]any) ([]byte, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	enc, err := ecb.Encrypt(metaKey, append([]byte(jsonPrefix), doc...))
	if err != nil {
		return nil, err
	}

	return []byte(Prefix + base64.StdEncoding.EncodeToString(enc)), nil
}

func (m Metadata) str(key string) string {
	s, _ := m[key].(string)
	return s
}

// Title returns musicName.
func (m Metadata) Title() string {
	return m.str("musicName")
}

// Album returns the album name.
func (m Metadata) Album() string {
	return m.str("album")
}

// AlbumPic returns the remote cover URL.
func (m Metadata) AlbumPic() string {
	return m.str("albumPic")
}

// Format returns the declared audio format, lowercased.
func (m Metadata) Format() string {
	return strings.ToLower(m.str("format"))
}

// Artists returns artist names. Entries of "artist" are [name, id] pairs.
func (m Metadata) Artists() []string {
	entries, ok := m["artist"].([]any)
	if !ok {
		if name := m.str("artistName"); name != "" {
			return []string{name}
		}

		return nil
	}

	return lo.FilterMap(entries, func(entry any, _ int) (string, bool) {
		pair, ok := entry.([]any)
		if !ok || len(pair) == 0 {
			return "", false
		}

		name, ok := pair[0].(string)

		return name, ok && name != ""
	})
}

// Duration returns the track duration, stored in milliseconds.
func (m Metadata) Duration() time.Duration {
	ms, ok := number(m["duration"])
	if !ok {
		return 0
	}

	return time.Duration(ms * float64(time.Millisecond))
}

// ID returns musicId.
func (m Metadata) ID() int64 {
	if n, ok := m["musicId"].(json.Number); ok {
		if id, err := n.Int64(); err == nil {
			return id
		}
	}

	id, _ := number(m["musicId"])

	return int64(id)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
