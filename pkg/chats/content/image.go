package content

import (
	"fmt"
	"slices"
)

// MaxImageSize is the largest accepted image payload in bytes (5 MiB).
const MaxImageSize = 5 * 1024 * 1024

// MimeType is the media type of an image part.
type MimeType string

const (
	PNG  MimeType = "image/png"
	JPEG MimeType = "image/jpeg"
	GIF  MimeType = "image/gif"
	WEBP MimeType = "image/webp"
	BMP  MimeType = "image/bmp"
)

// MimeTypes returns every supported image media type.
func MimeTypes() []MimeType {
	return []MimeType{PNG, JPEG, GIF, WEBP, BMP}
}

// Valid reports whether m is one of the supported image media types.
func (m MimeType) Valid() bool {
	return slices.Contains(MimeTypes(), m)
}

func (m MimeType) String() string { return string(m) }

// ParseMimeType converts s into a MimeType, rejecting anything outside the
// supported set.
func ParseMimeType(s string) (MimeType, error) {
	m := MimeType(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: unsupported image mime type %q", ErrInvalidPart, s)
	}
	return m, nil
}

// Image carries raw image bytes. Data is the decoded binary payload, never
// base64.
type Image struct {
	MimeType MimeType
	Data     []byte
}

// NewImage validates the media type and size and returns an Image holding a
// private copy of data.
func NewImage(mimeType MimeType, data []byte) (Image, error) {
	img := Image{MimeType: mimeType, Data: slices.Clone(data)}
	if err := img.Validate(); err != nil {
		return Image{}, err
	}
	return img, nil
}

func (Image) PartKind() Kind { return KindImage }

func (i Image) Validate() error {
	if !i.MimeType.Valid() {
		return fmt.Errorf("%w: unsupported image mime type %q", ErrInvalidPart, i.MimeType)
	}
	if len(i.Data) > MaxImageSize {
		return fmt.Errorf("%w: image is %d bytes, limit is %d", ErrInvalidPart, len(i.Data), MaxImageSize)
	}
	return nil
}

func (Image) sealed() {}
