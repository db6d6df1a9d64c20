// Package tag writes track metadata and cover art into decoded MP3 and FLAC
// streams held in memory.
package tag

import (
	"bytes"
	"errors"
	"fmt"
	// Decoders used by flacpicture to read image dimensions.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/bogem/id3v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/crmmc/ncmdump"
	"github.com/crmmc/ncmdump/sniff"
)

const (
	coverDescription = "Front cover"
	// linkMIME marks a picture whose data is a URL rather than image bytes.
	linkMIME = "-->"
	// id3Separator joins multiple artists in a single TPE1 frame.
	id3Separator = "/"
)

var errUnsupported = errors.New("tag: unsupported audio format")

// Info is the subset of track metadata written into tags.
type Info struct {
	Title   string
	Album   string
	Artists []string
	Cover   []byte
	// CoverURL is linked instead of embedded when Cover is empty.
	CoverURL string
}

// FromResult builds Info from a decoded container.
func FromResult(res *ncmdump.Result) Info {
	return Info{
		Title:    res.Metadata.Title(),
		Album:    res.Metadata.Album(),
		Artists:  res.Metadata.Artists(),
		Cover:    res.Cover,
		CoverURL: res.Metadata.AlbumPic(),
	}
}

// Embed returns audio with info added to its tags. Fields already present in
// the stream are left untouched. ext selects the container, "mp3" or "flac".
func Embed(audio []byte, ext string, info Info) ([]byte, error) {
	switch ext {
	case sniff.MP3.String():
		return embedMP3(audio, info)
	case sniff.FLAC.String():
		return embedFLAC(audio, info)
	}

	return nil, fmt.Errorf("%w: %q", errUnsupported, ext)
}

// Supported reports whether Embed handles ext.
func Supported(ext string) bool {
	return ext == sniff.MP3.String() || ext == sniff.FLAC.String()
}

// id3Size returns the length of a leading ID3v2 tag, or 0 when there is none.
func id3Size(b []byte) int {
	const headerSize = 10

	if len(b) < headerSize || string(b[:3]) != "ID3" {
		return 0
	}

	// Size is a 28-bit synchsafe integer excluding the header.
	size := 0
	for _, v := range b[6:10] {
		if v&0x80 != 0 {
			return 0
		}

		size = size<<7 | int(v)
	}

	size += headerSize

	// Footer present.
	if b[5]&0x10 != 0 {
		size += headerSize
	}

	if size > len(b) {
		return 0
	}

	return size
}

func embedMP3(audio []byte, info Info) ([]byte, error) {
	var tag *id3v2.Tag

	body := audio
	if size := id3Size(audio); size > 0 {
		parsed, err := id3v2.ParseReader(bytes.NewReader(audio[:size]), id3v2.Options{Parse: true})
		if err != nil {
			return nil, fmt.Errorf("parsing id3v2 tag: %w", err)
		}

		tag = parsed
		body = audio[size:]
	} else {
		tag = id3v2.NewEmptyTag()
	}

	hasPicture := len(tag.GetFrames(tag.CommonID("Attached picture"))) > 0

	switch {
	case hasPicture:
	case info.Cover != nil:
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingISO,
			MimeType:    coverMIME(info.Cover),
			PictureType: id3v2.PTFrontCover,
			Description: coverDescription,
			Picture:     info.Cover,
		})
	case info.CoverURL != "":
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingISO,
			MimeType:    linkMIME,
			PictureType: id3v2.PTFrontCover,
			Description: coverDescription,
			Picture:     []byte(info.CoverURL),
		})
	}

	if tag.GetTextFrame("TIT2").Text == "" && info.Title != "" {
		tag.AddTextFrame("TIT2", id3v2.EncodingUTF8, info.Title)
	}

	if tag.GetTextFrame("TALB").Text == "" && info.Album != "" {
		tag.AddTextFrame("TALB", id3v2.EncodingUTF8, info.Album)
	}

	if tag.GetTextFrame("TPE1").Text == "" && len(info.Artists) > 0 {
		tag.AddTextFrame("TPE1", id3v2.EncodingUTF8, strings.Join(info.Artists, id3Separator))
	}

	var out bytes.Buffer
	if _, err := tag.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("writing id3v2 tag: %w", err)
	}

	out.Write(body)

	return out.Bytes(), nil
}

func embedFLAC(audio []byte, info Info) ([]byte, error) {
	file, err := flac.ParseBytes(bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("parsing flac: %w", err)
	}

	hasPicture := false
	for _, m := range file.Meta {
		if m.Type == flac.Picture {
			hasPicture = true
			break
		}
	}

	switch {
	case hasPicture:
	case info.Cover != nil:
		picture, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, coverDescription, info.Cover, coverMIME(info.Cover))
		if err == nil {
			block := picture.Marshal()
			file.Meta = append(file.Meta, &block)
		}
	case info.CoverURL != "":
		picture := &flacpicture.MetadataBlockPicture{
			PictureType: flacpicture.PictureTypeFrontCover,
			MIME:        linkMIME,
			Description: coverDescription,
			ImageData:   []byte(info.CoverURL),
		}
		block := picture.Marshal()
		file.Meta = append(file.Meta, &block)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, m := range file.Meta {
		if m.Type == flac.VorbisComment {
			cmtBlock = m
			break
		}
	}

	var cmts *flacvorbis.MetaDataBlockVorbisComment
	if cmtBlock != nil {
		cmts, err = flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
		if err != nil {
			return nil, fmt.Errorf("parsing vorbis comment: %w", err)
		}
	} else {
		cmts = flacvorbis.New()
	}

	if err := addMissing(cmts, flacvorbis.FIELD_TITLE, info.Title); err != nil {
		return nil, err
	}

	if err := addMissing(cmts, flacvorbis.FIELD_ALBUM, info.Album); err != nil {
		return nil, err
	}

	if err := addMissing(cmts, flacvorbis.FIELD_ARTIST, info.Artists...); err != nil {
		return nil, err
	}

	res := cmts.Marshal()
	if cmtBlock != nil {
		*cmtBlock = res
	} else {
		file.Meta = append(file.Meta, &res)
	}

	return file.Marshal(), nil
}

// addMissing adds values under field unless the comment already carries it.
func addMissing(cmts *flacvorbis.MetaDataBlockVorbisComment, field string, values ...string) error {
	existing, err := cmts.Get(field)
	if err != nil {
		return fmt.Errorf("reading %s: %w", field, err)
	}

	if len(existing) > 0 {
		return nil
	}

	for _, v := range values {
		if v == "" {
			continue
		}

		if err := cmts.Add(field, v); err != nil {
			return fmt.Errorf("adding %s: %w", field, err)
		}
	}

	return nil
}

// coverMIME falls back to JPEG, matching what players assume for untyped covers.
func coverMIME(img []byte) string {
	if mime := sniff.Image(img); mime != sniff.MIMEOctet {
		return mime
	}

	return sniff.MIMEJPEG
}
