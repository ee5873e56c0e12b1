// Package metadata reads tag metadata, cover art and duration from audio files.
package metadata

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dhowden/tag"
	"github.com/hajimehoshi/go-mp3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/spotilite/internal/domain/failure"
)

// bytesPerFrame is the size of one decoded go-mp3 sample frame (16-bit stereo).
const bytesPerFrame = 4

// Info represents the metadata of one audio file.
type Info struct {
	Title           string
	Artist          string
	Album           string
	DurationSeconds float64
	Picture         *Picture // nil if the file has no embedded cover
}

// Picture is embedded cover art.
type Picture struct {
	Ext      string // File extension without dot ("jpg", "png")
	MIMEType string
	Data     []byte
}

// Extractor reads metadata from files on disk.
type Extractor struct{}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads tags and probes the duration of the file at path.
// A file whose tags cannot be read yields an error marked
// ErrMetadataUnavailable. A failed duration probe leaves DurationSeconds at 0.
func (e *Extractor) Extract(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.MetadataUnavailable(err, "failed to open %s", path)
	}
	defer f.Close()

	return e.ExtractFrom(f, path)
}

// ExtractFrom reads metadata from r. name is used in log and error messages.
func (e *Extractor) ExtractFrom(r io.ReadSeeker, name string) (*Info, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil, failure.MetadataUnavailable(err, "failed to read tags from %s", name)
	}

	info := &Info{
		Title:  strings.TrimSpace(m.Title()),
		Artist: strings.TrimSpace(m.Artist()),
		Album:  strings.TrimSpace(m.Album()),
	}
	if p := m.Picture(); p != nil && len(p.Data) > 0 {
		info.Picture = &Picture{
			Ext:      pictureExt(p),
			MIMEType: p.MIMEType,
			Data:     p.Data,
		}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		zlog.Debug().Msgf("metadata: failed to rewind %s: %v", name, err)
		return info, nil
	}
	seconds, err := ProbeDuration(r)
	if err != nil {
		zlog.Debug().Msgf("metadata: duration probe failed for %s: %v", name, err)
		return info, nil
	}
	info.DurationSeconds = seconds

	return info, nil
}

// ProbeDuration decodes the MP3 stream headers in r and returns its length in seconds.
func ProbeDuration(r io.ReadSeeker) (float64, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return 0, errors.Wrap(err, "failed to decode mp3")
	}
	length := d.Length()
	if length <= 0 || d.SampleRate() <= 0 {
		return 0, errors.New("mp3 length unknown")
	}
	return float64(length) / bytesPerFrame / float64(d.SampleRate()), nil
}

func pictureExt(p *tag.Picture) string {
	switch strings.ToLower(p.MIMEType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	if p.Ext != "" {
		return strings.TrimPrefix(strings.ToLower(p.Ext), ".")
	}
	return "jpg"
}
