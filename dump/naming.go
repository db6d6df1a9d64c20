package dump

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/crmmc/ncmdump/meta"
)

const (
	unknown         = "unknown"
	untitled        = "untitled"
	artistSeparator = ", "
)

//nolint:gochecknoglobals
var (
	reservedChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	spaces        = regexp.MustCompile(`\s+`)
)

// Sanitize makes name safe to use as a file name on common file systems.
func Sanitize(name string) string {
	name = reservedChars.ReplaceAllString(name, "_")
	name = spaces.ReplaceAllString(name, " ")
	name = norm.NFC.String(strings.TrimSpace(name))

	if name == "" || name == "." || name == ".." {
		return untitled
	}

	return name
}

// FormatName expands template with the track fields of m. fallback is used,
// sanitized, when the template is empty or the track has no title.
func FormatName(template string, m meta.Metadata, fallback string) string {
	title := m.Title()
	if template == "" || title == "" {
		return Sanitize(fallback)
	}

	artist := unknown
	if artists := m.Artists(); len(artists) > 0 {
		artist = strings.Join(artists, artistSeparator)
	}

	album := m.Album()
	if album == "" {
		album = unknown
	}

	name := strings.NewReplacer(
		"{title}", Sanitize(title),
		"{artist}", Sanitize(artist),
		"{album}", Sanitize(album),
	).Replace(template)

	return Sanitize(name)
}

// FormatDuration renders d as m:ss.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}

	secs := int(d / time.Second)

	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
