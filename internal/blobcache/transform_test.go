package blobcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"testing"
)

// resizedPNGHeader encodes a 1x1 PNG and rewrites its IHDR to declare w x h.
func resizedPNGHeader(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data := buf.Bytes()
	// signature(8) | length(4) | "IHDR"(4) | width(4) | height(4) | ... | crc(4)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestRecompressAvatarRejectsOversizedHeader(t *testing.T) {
	payload := resizedPNGHeader(t, 30000, 30000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("crafted header should parse: %v", err)
	}
	if cfg.Width != 30000 || cfg.Height != 30000 {
		t.Fatalf("unexpected crafted size %dx%d", cfg.Width, cfg.Height)
	}

	_, err = recompressAvatar(payload, AvatarLimits{})
	if !errors.Is(err, errAvatarTooLarge) {
		t.Fatalf("expected errAvatarTooLarge, got %v", err)
	}
}

func TestRecompressAvatarWithinBudget(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 300, 40))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	out, err := recompressAvatar(buf.Bytes(), AvatarLimits{MaxDim: 100})
	if err != nil {
		t.Fatalf("recompressAvatar failed: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || cfg.Width != 100 || cfg.Height != 13 {
		t.Fatalf("unexpected output %s %dx%d", format, cfg.Width, cfg.Height)
	}
}
