package display

import (
	"image"
	"image/color"
	"image/draw"
)

// Overlay colors for the verification sub-states.
var (
	ColorAlign     = color.RGBA{R: 255, G: 255, A: 255}
	ColorWrongCard = color.RGBA{R: 255, A: 255}
	ColorAlignMore = color.RGBA{R: 255, G: 165, A: 255}
	ColorVerified  = color.RGBA{G: 255, A: 255}
)

const (
	boxThickness    = 3
	statusBarHeight = 8
)

// Annotate copies src and draws the face boxes plus a status bar along
// the top edge in c. Boxes are in src coordinates.
func Annotate(src image.Image, boxes []image.Rectangle, c color.Color) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	fill := image.NewUniform(c)
	for _, box := range boxes {
		box = box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		edges := []image.Rectangle{
			image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+boxThickness),
			image.Rect(box.Min.X, box.Max.Y-boxThickness, box.Max.X, box.Max.Y),
			image.Rect(box.Min.X, box.Min.Y, box.Min.X+boxThickness, box.Max.Y),
			image.Rect(box.Max.X-boxThickness, box.Min.Y, box.Max.X, box.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(dst, e.Intersect(box), fill, image.Point{}, draw.Src)
		}
	}

	bar := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+statusBarHeight).Intersect(bounds)
	draw.Draw(dst, bar, fill, image.Point{}, draw.Src)
	return dst
}
