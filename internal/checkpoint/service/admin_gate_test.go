package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/service"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/memory"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
)

type gateFixture struct {
	clk   *clock.FakeClock
	rec   *events.Recorder
	audit *memory.ScanEventStore
	gate  *service.AdminGate
}

func newGateFixture() *gateFixture {
	f := &gateFixture{
		clk:   clock.Fake(t0),
		rec:   events.NewRecorder(),
		audit: memory.NewScanEventStore(),
	}
	f.gate = service.NewAdminGate(
		service.NewAdminPolicy([]string{" 900 ", "", "901"}),
		f.rec,
		service.NewAuditor(f.audit, f.clk, nil),
		f.clk,
		service.AdminGateConfig{},
		nil,
		nil,
	)
	return f
}

// scan runs HandleCard and lets the settle delay elapse.
func (f *gateFixture) scan(t *testing.T, cardID string) bool {
	t.Helper()
	result := make(chan bool, 1)
	go func() { result <- f.gate.HandleCard(context.Background(), cardID) }()
	f.clk.WaitForTimers(1)
	require.True(t, f.gate.Pending(), "gate stays armed until the settle delay passes")
	f.clk.Advance(500 * time.Millisecond)
	select {
	case ok := <-result:
		return ok
	case <-time.After(time.Second):
		t.Fatal("HandleCard did not return")
		return false
	}
}

func (f *gateFixture) lastAuth(t *testing.T) (events.Recorded, types.AdminAuthenticated) {
	t.Helper()
	ev, ok := f.rec.Last(types.EventAdminAuthenticated)
	require.True(t, ok)
	return ev, ev.Payload.(types.AdminAuthenticated)
}

func TestAdminGate_GrantedCardMintsToken(t *testing.T) {
	f := newGateFixture()

	f.gate.Request("s1")
	require.True(t, f.gate.Pending())
	req, ok := f.rec.Last(types.EventAdminCardScanRequest)
	require.True(t, ok)
	require.Equal(t, "s1", req.SessionID)
	require.Equal(t, types.AdminCardScanRequest{Message: "Scan Admin Card"}, req.Payload)

	require.True(t, f.scan(t, "900"))
	require.False(t, f.gate.Pending())

	ev, auth := f.lastAuth(t)
	require.Equal(t, "s1", ev.SessionID)
	require.True(t, auth.Success)
	require.NotEmpty(t, auth.Token)
	require.Equal(t, []string{service.OutcomeAdminGranted}, f.audit.Outcomes())

	require.NoError(t, f.gate.Redeem(auth.Token))
	require.ErrorIs(t, f.gate.Redeem(auth.Token), service.ErrTokenInvalid, "single use")
}

func TestAdminGate_DeniedCard(t *testing.T) {
	f := newGateFixture()

	f.gate.Request("s1")
	require.False(t, f.scan(t, "123"))

	ev, auth := f.lastAuth(t)
	require.Equal(t, "s1", ev.SessionID)
	require.False(t, auth.Success)
	require.Empty(t, auth.Token)
	require.Equal(t, []string{service.OutcomeAdminDenied}, f.audit.Outcomes())
	require.False(t, f.gate.Pending())
}

func TestAdminGate_TokenTTL(t *testing.T) {
	f := newGateFixture()

	f.gate.Request("s1")
	require.True(t, f.scan(t, "901"))
	_, auth := f.lastAuth(t)
	// Issued 500ms ago; 59.5s total is still inside the window.
	f.clk.Advance(59 * time.Second)
	require.NoError(t, f.gate.Redeem(auth.Token))

	f.gate.Request("s1")
	require.True(t, f.scan(t, "901"))
	_, auth = f.lastAuth(t)
	f.clk.Advance(59500 * time.Millisecond)
	require.ErrorIs(t, f.gate.Redeem(auth.Token), service.ErrTokenExpired)
	require.ErrorIs(t, f.gate.Redeem(auth.Token), service.ErrTokenInvalid, "expired tokens are dropped")
}

func TestAdminGate_CancelDisarms(t *testing.T) {
	f := newGateFixture()

	f.gate.Request("s1")
	f.gate.Cancel()
	require.False(t, f.gate.Pending())
	require.ErrorIs(t, f.gate.Redeem("nope"), service.ErrTokenInvalid)
}
