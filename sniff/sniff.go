// Package sniff classifies decoded audio and cover images by their leading bytes.
package sniff

// Codec represents a recognized audio codec.
type Codec uint8

const (
	// Unknown indicates the payload was not recognized.
	Unknown Codec = iota
	// FLAC is the Free Lossless Audio Codec.
	FLAC
	// MP3 is MPEG-1/2 Audio Layer III.
	MP3
)

// String returns the file extension conventionally used for the codec.
func (c Codec) String() string {
	switch c {
	case FLAC:
		return "flac"
	case MP3:
		return "mp3"
	case Unknown:
		return "unknown"
	}

	return "unknown"
}

const (
	// mpegSyncByte is the first byte of an MPEG audio frame sync word.
	mpegSyncByte = 0xFF
	// mpegSyncMask masks the upper 3 bits of the second byte in the sync word.
	mpegSyncMask = 0xE0
)

// MIME types reported for audio and images.
const (
	MIMEFLAC  = "audio/flac"
	MIMEMPEG  = "audio/mpeg"
	MIMEJPEG  = "image/jpeg"
	MIMEPNG   = "image/png"
	MIMEGIF   = "image/gif"
	MIMEOctet = "application/octet-stream"
)

// Audio returns the codec of a decoded payload.
func Audio(b []byte) Codec {
	if len(b) >= 4 && string(b[:4]) == "fLaC" {
		return FLAC
	}

	if len(b) >= 3 && string(b[:3]) == "ID3" {
		return MP3
	}

	if len(b) >= 2 && b[0] == mpegSyncByte && b[1]&mpegSyncMask == mpegSyncMask {
		return MP3
	}

	return Unknown
}

// AudioExt returns "flac" or "mp3". Unrecognized payloads are reported as mp3.
func AudioExt(b []byte) string {
	if Audio(b) == FLAC {
		return FLAC.String()
	}

	return MP3.String()
}

// AudioMIME maps an extension to the MIME type handed to players.
func AudioMIME(ext string) string {
	if ext == FLAC.String() {
		return MIMEFLAC
	}

	return MIMEMPEG
}

// Image returns the MIME type of a cover image.
func Image(b []byte) string {
	if len(b) < 4 {
		return MIMEOctet
	}

	switch {
	case b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return MIMEJPEG
	case b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47:
		return MIMEPNG
	case b[0] == 0x47 && b[1] == 0x49:
		return MIMEGIF
	}

	return MIMEOctet
}

// ImageExt returns the file extension, with leading dot, for an image MIME type.
func ImageExt(mime string) string {
	switch mime {
	case MIMEJPEG:
		return ".jpg"
	case MIMEPNG:
		return ".png"
	case MIMEGIF:
		return ".gif"
	}

	return ".bin"
}
