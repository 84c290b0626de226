package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/faceid"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

var ErrUnknownAction = errors.New("unknown user action")

// Verifier confirms the face in front of the camera belongs to cardID.
type Verifier interface {
	Verify(ctx context.Context, cardID string) faceid.Result
}

// FaceDirectory reports whether a card has an enrolled face.
type FaceDirectory interface {
	HasCard(cardID string) bool
}

// Overlay switches the video feed to the annotated verification frames.
type Overlay interface {
	Activate()
	Deactivate()
}

type OrchestratorConfig struct {
	DeniedDisplay  time.Duration // 2s
	SuccessDisplay time.Duration // 5s
	// AwaitTimeout releases an interaction left waiting on the dashboard
	// (ask_user_action, enrollment_request). Zero means 60s; negative
	// waits forever.
	AwaitTimeout time.Duration
	// UnlockOnBreak also opens the door when a break starts.
	UnlockOnBreak bool
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.DeniedDisplay <= 0 {
		c.DeniedDisplay = 2 * time.Second
	}
	if c.SuccessDisplay <= 0 {
		c.SuccessDisplay = 5 * time.Second
	}
	if c.AwaitTimeout == 0 {
		c.AwaitTimeout = 60 * time.Second
	}
	return c
}

type OrchestratorDeps struct {
	State      *State
	Ledger     *Ledger
	Faces      FaceDirectory
	Verifier   Verifier
	Overlay    Overlay
	Unlock     *UnlockSignal
	Emitter    events.Emitter
	Auditor    *Auditor
	Supervisor *Supervisor
	Clock      clock.Clock
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator reacts to card scans and to the user's break/leave choice.
// The ledger is only touched after a successful verification.
type Orchestrator struct {
	state   *State
	ledger  *Ledger
	faces   FaceDirectory
	verify  Verifier
	overlay Overlay
	unlock  *UnlockSignal
	emit    events.Emitter
	audit   *Auditor
	tasks   *Supervisor
	clock   clock.Clock
	cfg     OrchestratorConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	awaitSeq  uint64
	awaitCard string
}

func NewOrchestrator(d OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if d.Emitter == nil {
		d.Emitter = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
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
	if d.Unlock == nil {
		d.Unlock = NewUnlockSignal()
	}
	return &Orchestrator{
		state:   d.State,
		ledger:  d.Ledger,
		faces:   d.Faces,
		verify:  d.Verifier,
		overlay: d.Overlay,
		unlock:  d.Unlock,
		emit:    d.Emitter,
		audit:   d.Auditor,
		tasks:   d.Supervisor,
		clock:   d.Clock,
		cfg:     cfg.withDefaults(),
		logger:  d.Logger,
		metrics: d.Metrics,
	}
}

type nopOverlay struct{}

func (nopOverlay) Activate()   {}
func (nopOverlay) Deactivate() {}

// Submit starts processing cardID in a supervised task. It returns false
// without doing anything when an interaction is already in progress.
func (o *Orchestrator) Submit(cardID string) bool {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" || !o.state.TryBeginInteraction() {
		return false
	}
	started := o.tasks.Go("scan "+cardID, func(ctx context.Context) {
		defer o.recoverScan(cardID)
		o.ProcessScan(ctx, cardID)
	})
	if !started {
		o.state.EndInteraction()
	}
	return started
}

// recoverScan releases the interaction when a scan task panics, so the
// gate keeps accepting cards. The panic is logged and not re-raised.
func (o *Orchestrator) recoverScan(cardID string) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Errorf("scan: %s aborted: %v", cardID, panicError(r))
	o.overlay.Deactivate()
	o.Release()
	o.state.EndInteraction()
	o.emit.Broadcast(types.EventResetUI, nil)
}

// ProcessScan runs one scan end to end. The caller must already hold the
// interaction (see Submit).
func (o *Orchestrator) ProcessScan(ctx context.Context, cardID string) {
	o.interaction("Processing Card...")

	if !o.faces.HasCard(cardID) {
		o.logger.Infof("scan: card %s has no enrolled face", cardID)
		o.emit.Broadcast(types.EventEnrollmentRequest, types.EnrollmentRequest{
			CardID:  cardID,
			Message: "New card detected!",
		})
		o.record(ctx, cardID, OutcomeEnrollmentRequested, "", "")
		o.awaitClient(cardID)
		return
	}

	o.interaction("Verifying Face...")
	o.overlay.Activate()
	started := o.clock.Now()
	res := o.verify.Verify(ctx, cardID)
	o.overlay.Deactivate()
	o.metrics.ObserveVerification(verificationLabel(res), o.clock.Now().Sub(started))

	if !res.OK {
		o.logger.Infof("scan: access denied for %s (%s)", cardID, res.Reason)
		o.record(ctx, cardID, OutcomeDenied, string(res.Reason), "")
		o.interaction("Access Denied")
		o.finish(ctx, o.cfg.DeniedDisplay)
		return
	}

	name := faceid.NameFromLabel(res.Label, cardID)
	arr, err := o.ledger.Arrive(ctx, cardID, name)
	if err != nil {
		o.logger.Errorf("scan: ledger transition for %s: %v", cardID, err)
		o.interaction("Error: " + err.Error())
		o.finish(ctx, o.cfg.DeniedDisplay)
		return
	}

	switch arr.Kind {
	case ArrivalEntry:
		o.emit.Broadcast(types.EventUserCheckedIn, types.UserCheckedIn{
			Name:   name,
			Action: types.CheckInEntry,
			Msg:    fmt.Sprintf("Welcome %s!", name),
		})
		o.record(ctx, cardID, OutcomeEntry, "", name)
		o.unlock.Set()
	case ArrivalReturn:
		o.emit.Broadcast(types.EventUserCheckedIn, types.UserCheckedIn{
			Name:   name,
			Action: types.CheckInReturn,
			Msg:    fmt.Sprintf("Welcome back %s!", name),
		})
		o.record(ctx, cardID, OutcomeReturn, "", name)
	default:
		outcome := OutcomeAskAction
		if arr.Kind == ArrivalAnomaly {
			outcome = OutcomeAnomaly
		}
		o.emit.Broadcast(types.EventAskUserAction, types.AskUserAction{Name: name, CardID: cardID})
		o.record(ctx, cardID, outcome, "", name)
		o.awaitClient(cardID)
		return
	}

	o.finish(ctx, o.cfg.SuccessDisplay)
}

// HandleUserAction applies the break/leave answer to ask_user_action. It
// always releases the interaction and resets the UI after the success
// display delay.
func (o *Orchestrator) HandleUserAction(ctx context.Context, action, cardID string) error {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return ErrInvalidCardID
	}
	sess, ok := o.ledger.Session(cardID)
	if !ok {
		return ErrNoActiveSession
	}
	o.Release()
	name := sess.Name
	if name == "" {
		name = "User"
	}

	var err error
	switch action {
	case types.UserActionBreak:
		if _, err = o.ledger.StartBreak(ctx, cardID); err == nil {
			o.interaction(fmt.Sprintf("Break started for %s", name))
			o.record(ctx, cardID, OutcomeBreak, "", name)
			if o.cfg.UnlockOnBreak {
				o.unlock.Set()
			}
		}
	case types.UserActionLeave:
		var rec types.AttendanceRecord
		if rec, err = o.ledger.Leave(ctx, cardID); err == nil {
			o.logger.Infof("scan: %s left after %.0fs net", name, rec.NetDurationSeconds)
			o.interaction(fmt.Sprintf("Goodbye %s! Saved.", name))
			o.record(ctx, cardID, OutcomeLeave, "", name)
			o.unlock.Set()
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		o.logger.Warnf("scan: user action %s for %s: %v", action, cardID, err)
		o.interaction("Error: " + err.Error())
	}

	o.state.EndInteraction()
	o.tasks.Go("reset_ui", func(ctx context.Context) {
		if clock.SleepContext(ctx, o.clock, o.cfg.SuccessDisplay) == nil {
			o.emit.Broadcast(types.EventResetUI, nil)
		}
	})
	return err
}

// Release drops the pending wait on the dashboard, if any, so its
// timeout no longer ends the interaction.
func (o *Orchestrator) Release() {
	o.mu.Lock()
	o.awaitCard = ""
	o.awaitSeq++
	o.mu.Unlock()
}

// Awaiting returns the card whose interaction waits on the dashboard.
func (o *Orchestrator) Awaiting() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.awaitCard, o.awaitCard != ""
}

// awaitClient leaves the interaction held for the dashboard's answer and
// arms the await timeout.
func (o *Orchestrator) awaitClient(cardID string) {
	o.mu.Lock()
	o.awaitSeq++
	seq := o.awaitSeq
	o.awaitCard = cardID
	o.mu.Unlock()

	if o.cfg.AwaitTimeout < 0 {
		return
	}
	o.tasks.Go("await "+cardID, func(ctx context.Context) {
		if clock.SleepContext(ctx, o.clock, o.cfg.AwaitTimeout) != nil {
			return
		}
		o.mu.Lock()
		expired := o.awaitSeq == seq
		if expired {
			o.awaitCard = ""
		}
		o.mu.Unlock()
		if !expired {
			return
		}
		o.logger.Warnf("scan: no answer for %s within %v, releasing interaction", cardID, o.cfg.AwaitTimeout)
		o.state.EndInteraction()
		o.emit.Broadcast(types.EventResetUI, nil)
	})
}

// finish holds the result on screen, resets the UI and releases the
// interaction, even if ctx ended.
func (o *Orchestrator) finish(ctx context.Context, hold time.Duration) {
	_ = clock.SleepContext(ctx, o.clock, hold)
	o.emit.Broadcast(types.EventResetUI, nil)
	o.state.EndInteraction()
}

func (o *Orchestrator) interaction(msg string) {
	o.emit.Broadcast(types.EventInteraction, types.Interaction{Msg: msg})
}

func (o *Orchestrator) record(ctx context.Context, cardID, outcome, reason, name string) {
	o.audit.Record(ctx, cardID, outcome, reason, name)
	o.metrics.ScanOutcome(outcome)
}

func verificationLabel(res faceid.Result) string {
	if res.OK {
		return "ok"
	}
	return string(res.Reason)
}
