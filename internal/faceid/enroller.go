package faceid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/camera"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/display"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// ErrEnrollTimeout means no usable face was seen within the attempt budget.
var ErrEnrollTimeout = errors.New("faceid: enrollment timeout")

type EnrollerConfig struct {
	Attempts int           // 150
	Interval time.Duration // 50ms
}

// Enroller captures a face for a new card and stores it in the registry.
type Enroller struct {
	registry *Registry
	frames   camera.FrameSource
	analyzer Analyzer
	overlay  OverlaySink
	clock    clock.Clock
	cfg      EnrollerConfig
	logger   *logging.Logger
}

func NewEnroller(d VerifierDeps, cfg EnrollerConfig) *Enroller {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 150
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Analyzer == nil {
		d.Analyzer = NopAnalyzer{}
	}
	return &Enroller{
		registry: d.Registry,
		frames:   d.Frames,
		analyzer: d.Analyzer,
		overlay:  d.Overlay,
		clock:    d.Clock,
		cfg:      cfg,
		logger:   d.Logger,
	}
}

// Enroll samples frames until one contains a face with an embedding, then
// persists it under "<cardID>_<name>". Frames that cannot be read are
// skipped; analyzer and storage errors abort.
func (e *Enroller) Enroll(ctx context.Context, cardID, name string) (Identity, error) {
	status := "Enroll: " + name
	for i := 0; i < e.cfg.Attempts; i++ {
		if err := clock.SleepContext(ctx, e.clock, e.cfg.Interval); err != nil {
			return Identity{}, err
		}

		frame, err := e.frames.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Identity{}, ctx.Err()
			}
			continue
		}
		if e.overlay != nil {
			e.overlay.Publish(display.Annotate(frame, nil, display.ColorVerified), status)
		}

		faces, err := detectFaces(e.analyzer, frame)
		if err != nil {
			return Identity{}, fmt.Errorf("faceid: enroll detect: %w", err)
		}
		if len(faces) == 0 || len(faces[0].Embedding) == 0 {
			continue
		}

		id, err := e.registry.Enroll(cardID, name, faces[0].Embedding, e.clock.Now())
		if err != nil {
			return Identity{}, err
		}
		e.logger.Infof("faceid: enrolled %s", id.Label)
		return id, nil
	}
	return Identity{}, ErrEnrollTimeout
}
