package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io/fs"
	"path"
	"strings"
)

type Poster struct {
	Path string
	Data []byte
}

// PosterName builds "<2-digit id>_<protagonist with underscores>.jpg".
func PosterName(id int, protagonist string) string {
	return fmt.Sprintf("%02d_%s.jpg", id, strings.ReplaceAll(protagonist, " ", "_"))
}

// Poster reads the poster of a story. A missing file yields ErrNotFound and
// a file that is not a readable image yields ErrUnreadable.
func (c *Catalog) Poster(id int, protagonist string) (Poster, error) {
	p := path.Join(PosterDir, PosterName(id, protagonist))
	data, err := fs.ReadFile(c.fsys, p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Poster{Path: p}, fmt.Errorf("poster %s: %w", p, ErrNotFound)
	case err != nil:
		return Poster{Path: p}, fmt.Errorf("poster %s: %w: %v", p, ErrUnreadable, err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Poster{Path: p}, fmt.Errorf("poster %s: %w: %v", p, ErrUnreadable, err)
	}
	return Poster{Path: p, Data: data}, nil
}

// StoryPoster looks up the story first and then its poster.
func (c *Catalog) StoryPoster(id int) (Poster, error) {
	s, err := c.Story(id)
	if err != nil {
		return Poster{}, err
	}
	return c.Poster(id, s.Protagonist)
}

// Message is the short text shown in place of a poster that failed to load.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "File not found."
	case errors.Is(err, ErrUnreadable):
		return "Cannot open the image."
	case err == nil:
		return ""
	}
	return err.Error()
}
