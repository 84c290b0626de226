package service

import (
	"context"
	"errors"
	"strings"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/faceid"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

var (
	ErrInvalidEnrollment = errors.New("enrollment requires name and card_id")
	ErrShuttingDown      = errors.New("checkpoint is shutting down")
)

// FaceEnroller captures and stores a face for a new card.
type FaceEnroller interface {
	Enroll(ctx context.Context, cardID, name string) (faceid.Identity, error)
}

type EnrollmentDeps struct {
	State      *State
	Enroller   FaceEnroller
	Overlay    Overlay
	Emitter    events.Emitter
	Auditor    *Auditor
	Supervisor *Supervisor
	Logger     *logging.Logger
}

// Enrollment runs the capture flow started by enrollment_name_submitted.
// Progress is reported to the submitting session only.
type Enrollment struct {
	state    *State
	enroller FaceEnroller
	overlay  Overlay
	emit     events.Emitter
	audit    *Auditor
	tasks    *Supervisor
	logger   *logging.Logger
}

func NewEnrollment(d EnrollmentDeps) *Enrollment {
	if d.Emitter == nil {
		d.Emitter = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Supervisor == nil {
		d.Supervisor = NewSupervisor(context.Background(), d.Logger)
	}
	if d.Overlay == nil {
		d.Overlay = nopOverlay{}
	}
	return &Enrollment{
		state:    d.State,
		enroller: d.Enroller,
		overlay:  d.Overlay,
		emit:     d.Emitter,
		audit:    d.Auditor,
		tasks:    d.Supervisor,
		logger:   d.Logger,
	}
}

// Submit starts a capture task for cardID under name.
func (e *Enrollment) Submit(sessionID, name, cardID string) error {
	name = strings.TrimSpace(name)
	cardID = strings.TrimSpace(cardID)
	if name == "" || cardID == "" {
		return ErrInvalidEnrollment
	}
	e.emit.SendTo(sessionID, types.EventEnrollmentCapture, types.EnrollmentNotice{
		Message: "Look at camera...",
		CardID:  cardID,
	})
	if !e.tasks.Go("enroll "+cardID, func(ctx context.Context) {
		e.Run(ctx, sessionID, name, cardID)
	}) {
		e.state.EndInteraction()
		return ErrShuttingDown
	}
	return nil
}

// Run captures the face synchronously. The overlay and the interaction
// are always released on return.
func (e *Enrollment) Run(ctx context.Context, sessionID, name, cardID string) {
	e.overlay.Activate()
	defer func() {
		e.overlay.Deactivate()
		e.state.EndInteraction()
	}()
	e.emit.SendTo(sessionID, types.EventEnrollmentStatus, types.EnrollmentNotice{Message: "Aligning Face..."})

	id, err := e.enroller.Enroll(ctx, cardID, name)
	switch {
	case err == nil:
		e.logger.Infof("enrollment: %s enrolled", id.Label)
		e.audit.Record(ctx, cardID, OutcomeEnrolled, "", id.Name)
		e.emit.SendTo(sessionID, types.EventEnrollmentSuccess, types.EnrollmentNotice{Message: "Success!", CardID: cardID})
	case errors.Is(err, faceid.ErrEnrollTimeout):
		e.logger.Warnf("enrollment: timeout for %s", cardID)
		e.emit.SendTo(sessionID, types.EventEnrollmentError, types.EnrollmentNotice{Message: "Timeout"})
	default:
		e.logger.Errorf("enrollment: %s: %v", cardID, err)
		e.emit.SendTo(sessionID, types.EventEnrollmentError, types.EnrollmentNotice{Message: "Error"})
	}
}

// Cancel releases the interaction held since the enrollment request.
func (e *Enrollment) Cancel() {
	e.state.EndInteraction()
}
