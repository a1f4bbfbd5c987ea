// Package upload implements the advisory acceptance filter for user images.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// MaxSize is the largest accepted upload.
const MaxSize = 10 << 20

var (
	ErrEmpty           = errors.New("empty upload")
	ErrTooLarge        = fmt.Errorf("image exceeds %d bytes", MaxSize)
	ErrUnsupportedType = errors.New("unsupported image type")
)

var acceptedExtensions = []string{".jpeg", ".jpg", ".png", ".webp"}

var acceptedContentType = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Accepted describes an upload that passed the filter.
type Accepted struct {
	Name        string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// AcceptedExtensions lists the file extensions offered in the file picker.
func AcceptedExtensions() []string {
	return append([]string(nil), acceptedExtensions...)
}

// Check applies the extension, size and content filter to one file.
func Check(name string, data []byte) (*Accepted, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}
	if !hasAcceptedExtension(name) {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedType, filepath.Ext(name))
	}

	detected := mimetype.Detect(data)
	contentType := detected.String()
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}
	if !acceptedContentType[contentType] {
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedType, contentType)
	}

	accepted := &Accepted{Name: filepath.Base(name), ContentType: contentType, Data: data}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		accepted.Width, accepted.Height = cfg.Width, cfg.Height
	}
	return accepted, nil
}

func hasAcceptedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range acceptedExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}
