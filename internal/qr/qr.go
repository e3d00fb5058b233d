// ABOUTME: Renders transport pairing strings into the form relayed to tenants
// ABOUTME: Produces PNG data URLs via go-qrcode or passes the raw string through

package qr

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// Supported output formats.
const (
	FormatDataURL = "data_url"
	FormatRaw     = "raw"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 300

// ErrEmptyCode is returned when asked to render an empty pairing string.
var ErrEmptyCode = errors.New("empty pairing code")

const dataURLPrefix = "data:image/png;base64,"

// Renderer turns a pairing string into its displayable form.
type Renderer struct {
	format string
	size   int
}

// NewRenderer validates format and size. An empty format means FormatDataURL
// and a non-positive size means DefaultSize.
func NewRenderer(format string, size int) (*Renderer, error) {
	switch format {
	case "":
		format = FormatDataURL
	case FormatDataURL, FormatRaw:
	default:
		return nil, fmt.Errorf("unknown qr format %q", format)
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{format: format, size: size}, nil
}

// Format returns the configured output format.
func (r *Renderer) Format() string { return r.format }

// Render converts code according to the configured format.
func (r *Renderer) Render(code string) (string, error) {
	if code == "" {
		return "", ErrEmptyCode
	}
	if r.format == FormatRaw {
		return code, nil
	}

	png, err := qrcode.Encode(code, qrcode.Medium, r.size)
	if err != nil {
		return "", fmt.Errorf("encoding qr png: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
