package display_test

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/display"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestBuffer_OverlaySelection(t *testing.T) {
	b := display.NewBuffer()

	img, _ := b.Frame()
	require.Nil(t, img)

	raw := solid(4, 4, color.RGBA{R: 10, A: 255})
	b.SetLatest(raw)
	img, _ = b.Frame()
	require.Same(t, raw, img)

	// Publishing outside a session is ignored.
	over := solid(4, 4, color.RGBA{G: 10, A: 255})
	b.Publish(over, "Align Face")
	img, _ = b.Frame()
	require.Same(t, raw, img)

	b.Activate()
	img, _ = b.Frame()
	require.Same(t, raw, img, "active but unpainted falls back to raw")

	// Blank overlay frames are ignored.
	b.Publish(image.NewRGBA(image.Rect(0, 0, 4, 4)), "blank")
	img, _ = b.Frame()
	require.Same(t, raw, img)

	b.Publish(over, "Align Face")
	img, status := b.Frame()
	require.Same(t, over, img)
	require.Equal(t, "Align Face", status)

	b.Deactivate()
	img, status = b.Frame()
	require.Same(t, raw, img)
	require.Empty(t, status)
}

func TestAnnotate_DrawsBoxAndBar(t *testing.T) {
	src := solid(100, 100, color.RGBA{A: 255})
	out := display.Annotate(src, []image.Rectangle{image.Rect(20, 20, 60, 60)}, display.ColorVerified)

	require.Equal(t, display.ColorVerified, out.RGBAAt(20, 40), "left edge")
	require.Equal(t, display.ColorVerified, out.RGBAAt(59, 40), "right edge")
	require.Equal(t, display.ColorVerified, out.RGBAAt(50, 2), "status bar")
	require.Equal(t, color.RGBA{A: 255}, out.RGBAAt(40, 40), "inside box untouched")

	// Source is not modified.
	require.Equal(t, color.RGBA{A: 255}, src.RGBAAt(20, 40))
}

func TestEncodeFrame_ScalesToTarget(t *testing.T) {
	b64, err := display.EncodeFrame(solid(32, 24, color.RGBA{R: 200, A: 255}), 64, 48, 40)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestStreamer_PublishBroadcasts(t *testing.T) {
	rec := events.NewRecorder()
	s := display.NewStreamer(display.NewBuffer(), rec, clock.Real(), display.StreamConfig{Width: 16, Height: 12}, nil)

	require.NoError(t, s.Publish(solid(8, 6, color.RGBA{B: 90, A: 255}), "Identity OK"))

	ev, ok := rec.Last(types.EventVideoFrame)
	require.True(t, ok)
	vf := ev.Payload.(types.VideoFrame)
	require.NotEmpty(t, vf.Image)
	require.Equal(t, "Identity OK", vf.Status)
}
