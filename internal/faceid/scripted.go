package faceid

import (
	"image"
	"sync"
)

// ScriptedAnalyzer returns a fixed sequence of detections, repeating the
// last step forever, or the whole sequence when looping. It backs the
// simulator and tests.
type ScriptedAnalyzer struct {
	mu    sync.Mutex
	steps []ScriptStep
	pos   int
	calls int
	loop  bool
}

// ScriptStep is one Detect result.
type ScriptStep struct {
	Faces []Face
	Err   error
}

func NewScriptedAnalyzer(steps ...ScriptStep) *ScriptedAnalyzer {
	return &ScriptedAnalyzer{steps: steps}
}

// NewLoopingAnalyzer cycles through steps forever.
func NewLoopingAnalyzer(steps ...ScriptStep) *ScriptedAnalyzer {
	return &ScriptedAnalyzer{steps: steps, loop: true}
}

func (a *ScriptedAnalyzer) Detect(image.Image) ([]Face, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.steps) == 0 {
		return nil, nil
	}
	step := a.steps[a.pos]
	switch {
	case a.pos < len(a.steps)-1:
		a.pos++
	case a.loop:
		a.pos = 0
	}
	return step.Faces, step.Err
}

// Calls reports how many frames were analyzed.
func (a *ScriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// OpenEye and ClosedEye are landmark sets with EAR 0.3 and 0.1.
var (
	OpenEye   = eyeWithEAR(0.3)
	ClosedEye = eyeWithEAR(0.1)
)

func eyeWithEAR(ear float64) []Point {
	// Corners 10 apart; both vertical spans equal 10*ear.
	h := 10 * ear / 2
	return []Point{
		{X: 0, Y: 0},
		{X: 3, Y: -h},
		{X: 7, Y: -h},
		{X: 10, Y: 0},
		{X: 7, Y: h},
		{X: 3, Y: h},
	}
}

// SyntheticFace builds a detection with the given embedding and eye state.
func SyntheticFace(embedding []float64, eyesOpen bool) Face {
	eye := OpenEye
	if !eyesOpen {
		eye = ClosedEye
	}
	return Face{
		Box:       image.Rect(100, 80, 260, 260),
		Embedding: embedding,
		LeftEye:   eye,
		RightEye:  eye,
	}
}
