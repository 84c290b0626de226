// Package faceid matches a face in front of the gate against the identity
// enrolled for a card and checks liveness with a single blink. Face
// detection and embedding extraction are supplied by an Analyzer.
package faceid

import (
	"image"
	"math"
)

// Point is a landmark coordinate in frame pixels.
type Point struct {
	X, Y float64
}

// Face is one detection. Each eye has six landmarks ordered p1..p6 around
// the contour, p1 and p4 at the corners.
type Face struct {
	Box       image.Rectangle
	Embedding []float64
	LeftEye   []Point
	RightEye  []Point
}

// Analyzer detects faces in a frame.
type Analyzer interface {
	Detect(img image.Image) ([]Face, error)
}

// Distance is the euclidean distance between two embeddings. Embeddings
// of different length are infinitely far apart.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// EyeAspectRatio is (|p2-p6| + |p3-p5|) / (2|p1-p4|). ok is false when the
// landmarks are incomplete or degenerate.
func EyeAspectRatio(eye []Point) (float64, bool) {
	if len(eye) < 6 {
		return 0, false
	}
	dist := func(p, q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c == 0 {
		return 0, false
	}
	return (a + b) / (2 * c), true
}

// NopAnalyzer never finds a face.
type NopAnalyzer struct{}

func (NopAnalyzer) Detect(image.Image) ([]Face, error) { return nil, nil }
