package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxImageWidth is the widest image sent on the wire.
	DefaultMaxImageWidth = 800
	// DefaultImageQuality is the JPEG quality used for outgoing images.
	DefaultImageQuality = 80
)

// ErrImageDecode is returned when raw image bytes cannot be decoded.
var ErrImageDecode = errors.New("image decode failure")

// CompressImage decodes raw image bytes, scales the image down to maxWidth keeping the
// aspect ratio, re-encodes it as JPEG at the given quality and returns unwrapped
// standard base64 text, safe to embed in a single-line record.
func CompressImage(raw []byte, maxWidth, quality int) (string, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxImageWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultImageQuality
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	img := scaleToWidth(src, maxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecompressImage reverses CompressImage. Invalid input yields nil.
func DecompressImage(encoded string) image.Image {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) == 0 {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

// scaledSize returns the target size for an image of w x h limited to maxWidth.
func scaledSize(w, h, maxWidth int) (int, int) {
	if w <= maxWidth {
		return w, h
	}
	nh := (h*maxWidth + w/2) / w
	if nh < 1 {
		nh = 1
	}
	return maxWidth, nh
}

func scaleToWidth(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), maxWidth)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
