package blobcache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxAvatarDim  = 256
	DefaultAvatarQuality = 85

	// maxAvatarSourcePixels caps the decoded size of an uploaded avatar.
	maxAvatarSourcePixels = 8192 * 8192
)

var errAvatarTooLarge = errors.New("avatar dimensions exceed decode budget")

// AvatarLimits bounds the resolution and JPEG quality of stored avatars.
type AvatarLimits struct {
	MaxDim  int
	Quality int
}

func (l AvatarLimits) normalized() AvatarLimits {
	if l.MaxDim <= 0 {
		l.MaxDim = DefaultMaxAvatarDim
	}
	if l.Quality <= 0 || l.Quality > 100 {
		l.Quality = DefaultAvatarQuality
	}
	return l
}

// recompressAvatar decodes payload, scales it to fit within MaxDim on both
// axes, flattens transparency onto white, and re-encodes it as JPEG.
func recompressAvatar(payload []byte, limits AvatarLimits) ([]byte, error) {
	limits = limits.normalized()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode avatar header: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxAvatarSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d", errAvatarTooLarge, cfg.Width, cfg.Height)
	}
	src, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w", err)
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), limits.MaxDim)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("decode avatar: empty %s image", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: limits.Quality}); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}
