package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/service"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware/sim"
)

func startDoor(t *testing.T) (*clock.FakeClock, *sim.Servo, *service.UnlockSignal, *service.State) {
	t.Helper()
	clk := clock.Fake(t0)
	servo := sim.NewServo(nil)
	signal := service.NewUnlockSignal()
	state := service.NewState()
	door := service.NewDoorController(servo, signal, state, clk, service.DoorConfig{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		door.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Initial lock.
	clk.WaitForTimers(1)
	clk.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(servo.Calls()) == 2 }, time.Second, time.Millisecond)
	return clk, servo, signal, state
}

func TestDoorController_LocksOnStartup(t *testing.T) {
	_, servo, _, state := startDoor(t)

	require.Equal(t, []sim.ServoCall{
		{Op: "drive", Duty: 4.3},
		{Op: "stop"},
	}, servo.Calls())
	require.False(t, state.DoorOperationActive())
}

func TestDoorController_UnlockCycle(t *testing.T) {
	clk, servo, signal, state := startDoor(t)

	signal.Set()
	signal.Set()

	// Unlock travel.
	clk.WaitForTimers(1)
	require.True(t, state.DoorOperationActive())
	clk.Advance(500 * time.Millisecond)

	// Open span.
	clk.WaitForTimers(1)
	require.True(t, state.DoorOperationActive())
	clk.Advance(9500 * time.Millisecond)

	// Lock travel.
	clk.WaitForTimers(1)
	clk.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool {
		return !state.DoorOperationActive() && !signal.IsSet()
	}, time.Second, time.Millisecond)

	require.Equal(t, []sim.ServoCall{
		{Op: "drive", Duty: 4.3},
		{Op: "stop"},
		{Op: "drive", Duty: 9.3},
		{Op: "stop"},
		{Op: "drive", Duty: 4.3},
		{Op: "stop"},
	}, servo.Calls())

	// The double Set produced a single cycle.
	require.Equal(t, 0, clk.PendingCount())
}
