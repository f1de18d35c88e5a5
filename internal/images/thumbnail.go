// Package images decodes the data-URI images attached to visualization
// notes and scales them for gallery thumbnails.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DecodeDataURI parses a data: URI and decodes the embedded image.
func DecodeDataURI(uri string) (image.Image, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("not a data URI")
	}
	idx := strings.Index(uri, ",")
	if idx < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	meta, payload := uri[len("data:"):idx], uri[idx+1:]

	var raw []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URI: %w", err)
		}
		raw = decoded
	} else {
		raw = []byte(payload)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Thumbnail scales the data-URI image down to the given width, preserving
// aspect ratio, and returns it PNG-encoded. Images already narrower than
// width are re-encoded unscaled.
func Thumbnail(dataURI string, width int) ([]byte, error) {
	if width <= 0 {
		width = 256
	}
	src, err := DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	if bounds.Dx() > width {
		height := bounds.Dy() * width / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
