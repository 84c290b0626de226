package faceid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/camera"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/display"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// Reason explains a failed verification.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNoKnownFaces      Reason = "no_known_faces"
	ReasonCameraUnavailable Reason = "camera_unavailable"
	ReasonTimeout           Reason = "timeout"
	ReasonError             Reason = "error"
	ReasonCancelled         Reason = "cancelled"
)

// Overlay status texts.
const (
	StatusAlign          = "Align Face"
	StatusAlignBetter    = "Align Face Better"
	StatusWrongCard      = "Wrong Card!"
	StatusBlinking       = "Blink Detected..."
	StatusBlinkConfirmed = "Good! Blink detected. Processing..."
	StatusIdentityOK     = "Identity OK. Please blink once."
)

// Result of one verification attempt. Label is the matched identity
// label on success.
type Result struct {
	OK     bool
	Label  string
	Reason Reason
}

type VerifierConfig struct {
	Timeout        time.Duration // 45s
	MatchRadius    float64       // 0.65
	BlinkThreshold float64       // 0.22
	MaxMisses      int           // 15
	FrameInterval  time.Duration // 33ms
}

func (c VerifierConfig) withDefaults() VerifierConfig {
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MatchRadius <= 0 {
		c.MatchRadius = 0.65
	}
	if c.BlinkThreshold <= 0 {
		c.BlinkThreshold = 0.22
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = 15
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 33 * time.Millisecond
	}
	return c
}

// OverlaySink receives annotated frames for the video feed.
type OverlaySink interface {
	Publish(img image.Image, status string)
}

// Verifier runs the identity-plus-blink protocol against the shared camera.
type Verifier struct {
	registry *Registry
	frames   camera.FrameSource
	analyzer Analyzer
	overlay  OverlaySink
	emit     events.Emitter
	clock    clock.Clock
	cfg      VerifierConfig
	logger   *logging.Logger
}

type VerifierDeps struct {
	Registry *Registry
	Frames   camera.FrameSource
	Analyzer Analyzer
	Overlay  OverlaySink
	Emitter  events.Emitter
	Clock    clock.Clock
	Logger   *logging.Logger
}

func NewVerifier(d VerifierDeps, cfg VerifierConfig) *Verifier {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Emitter == nil {
		d.Emitter = events.Nop{}
	}
	if d.Analyzer == nil {
		d.Analyzer = NopAnalyzer{}
	}
	return &Verifier{
		registry: d.Registry,
		frames:   d.Frames,
		analyzer: d.Analyzer,
		overlay:  d.Overlay,
		emit:     d.Emitter,
		clock:    d.Clock,
		cfg:      cfg.withDefaults(),
		logger:   d.Logger,
	}
}

// attempt is the per-call verification state.
type attempt struct {
	identityVerified bool
	matchedLabel     string
	blinkCounter     int
	blinkDetected    bool
	misses           int
	frameCount       int
	lastBoxes        []image.Rectangle
	status           string
	color            color.RGBA
}

func (a *attempt) resetIdentity() {
	a.identityVerified = false
	a.matchedLabel = ""
	a.blinkCounter = 0
	a.status = StatusAlign
	a.color = display.ColorAlign
}

// Verify blocks until the person in front of the camera is matched to
// cardID and blinks, or the attempt fails. Only ctx cancellation or the
// timeout end a running attempt early.
func (v *Verifier) Verify(ctx context.Context, cardID string) Result {
	known := v.registry.Identities()
	if len(known) == 0 {
		v.interaction("No faces registered")
		return Result{Reason: ReasonNoKnownFaces}
	}

	v.interaction("Verifying Face... Please look at camera")

	a := &attempt{status: StatusAlign, color: display.ColorAlign}
	deadline := v.clock.Now().Add(v.cfg.Timeout)
	prefix := cardID + "_"

	for v.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return Result{Reason: ReasonCancelled}
		}

		frame, err := v.frames.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, camera.ErrUnavailable):
				v.interaction("Camera unavailable")
				return Result{Reason: ReasonCameraUnavailable}
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return Result{Reason: ReasonCancelled}
			}
			if clock.SleepContext(ctx, v.clock, v.cfg.FrameInterval) != nil {
				return Result{Reason: ReasonCancelled}
			}
			continue
		}

		a.frameCount++
		if a.frameCount%2 == 0 {
			faces, err := detectFaces(v.analyzer, frame)
			if err != nil {
				v.logger.Errorf("faceid: verification error: %v", err)
				v.interaction("Verification error: " + err.Error())
				return Result{Reason: ReasonError}
			}
			v.step(a, faces, known, prefix)
		}

		if v.overlay != nil {
			var boxes []image.Rectangle
			if a.misses < v.cfg.MaxMisses {
				boxes = a.lastBoxes
			}
			v.overlay.Publish(display.Annotate(frame, boxes, a.color), a.status)
		}

		if a.blinkDetected {
			v.logger.Infof("faceid: liveness confirmed for %s", a.matchedLabel)
			return Result{OK: true, Label: a.matchedLabel}
		}

		if clock.SleepContext(ctx, v.clock, v.cfg.FrameInterval) != nil {
			return Result{Reason: ReasonCancelled}
		}
	}

	v.interaction("Verification timeout")
	return Result{Reason: ReasonTimeout}
}

// detectFaces runs a on one frame. A panicking analyzer is reported as an
// error so a verification resolves to ReasonError instead of escaping.
func detectFaces(a Analyzer, frame image.Image) (faces []Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			faces, err = nil, fmt.Errorf("faceid: analyzer panic: %v", r)
		}
	}()
	return a.Detect(frame)
}

// step applies one analyzed frame to the attempt.
func (v *Verifier) step(a *attempt, faces []Face, known []Identity, prefix string) {
	if len(faces) == 0 {
		a.misses++
		if a.misses >= v.cfg.MaxMisses {
			a.resetIdentity()
		}
		return
	}

	a.misses = 0
	a.lastBoxes = a.lastBoxes[:0]
	for _, f := range faces {
		a.lastBoxes = append(a.lastBoxes, f.Box)
	}
	face := faces[0]

	if !a.identityVerified {
		best, bestIdx := math.Inf(1), -1
		for i, id := range known {
			if d := Distance(face.Embedding, id.Embedding); d < best {
				best, bestIdx = d, i
			}
		}
		switch {
		case bestIdx < 0 || best > v.cfg.MatchRadius:
			a.status = StatusAlignBetter
			a.color = display.ColorAlignMore
		case strings.HasPrefix(known[bestIdx].Label, prefix):
			a.identityVerified = true
			a.matchedLabel = known[bestIdx].Label
			v.interaction("Identity verified. Please blink once.")
		default:
			a.status = StatusWrongCard
			a.color = display.ColorWrongCard
		}
	}

	if !a.identityVerified {
		return
	}

	left, okL := EyeAspectRatio(face.LeftEye)
	right, okR := EyeAspectRatio(face.RightEye)
	if !okL || !okR {
		return
	}
	if (left+right)/2 < v.cfg.BlinkThreshold {
		a.blinkCounter++
		a.status = StatusBlinking
		a.color = display.ColorAlign
		return
	}

	if a.blinkCounter >= 1 {
		a.blinkDetected = true
		a.status = StatusBlinkConfirmed
	} else {
		a.status = StatusIdentityOK
	}
	a.blinkCounter = 0
	a.color = display.ColorVerified
}

func (v *Verifier) interaction(msg string) {
	v.emit.Broadcast(types.EventInteraction, types.Interaction{Msg: msg})
}
