package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

var ErrUnknownEvent = errors.New("unknown client event")

// Dispatcher routes client events from the event hub to the components.
type Dispatcher struct {
	orch   *Orchestrator
	enroll *Enrollment
	admin  *AdminGate
}

func NewDispatcher(orch *Orchestrator, enroll *Enrollment, admin *AdminGate) *Dispatcher {
	return &Dispatcher{orch: orch, enroll: enroll, admin: admin}
}

func (d *Dispatcher) HandleClientEvent(ctx context.Context, sessionID, event string, data json.RawMessage) error {
	switch event {
	case types.EventUserAction:
		var p types.UserAction
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		return d.orch.HandleUserAction(ctx, p.Action, p.CardID)

	case types.EventAdminLoginRequest:
		d.admin.Request(sessionID)
		return nil

	case types.EventAdminLoginCancel:
		d.admin.Cancel()
		return nil

	case types.EventEnrollmentNameSubmitted:
		var p types.EnrollmentNameSubmitted
		if err := decodePayload(data, &p); err != nil {
			return err
		}
		if err := d.enroll.Submit(sessionID, p.Name, p.CardID); err != nil {
			return err
		}
		d.orch.Release()
		return nil

	case types.EventEnrollmentCancel:
		d.orch.Release()
		d.enroll.Cancel()
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
