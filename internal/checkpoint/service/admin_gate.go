package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

var (
	ErrTokenInvalid = errors.New("admin token invalid")
	ErrTokenExpired = errors.New("admin token expired")
)

type AdminPolicy struct {
	AdminCardIDs map[string]struct{}
}

func NewAdminPolicy(cardIDs []string) AdminPolicy {
	allowed := make(map[string]struct{}, len(cardIDs))
	for _, c := range cardIDs {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = struct{}{}
		}
	}
	return AdminPolicy{AdminCardIDs: allowed}
}

type AdminGateConfig struct {
	TokenTTL time.Duration // 60s
	Settle   time.Duration // 500ms
}

// AdminGate diverts the next card scan after an admin login request into
// an allow-list check, and mints single-use dashboard tokens.
type AdminGate struct {
	policy  AdminPolicy
	emit    events.Emitter
	audit   *Auditor
	clock   clock.Clock
	cfg     AdminGateConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	pending   bool
	sessionID string
	tokens    map[string]time.Time
}

func NewAdminGate(
	policy AdminPolicy,
	emit events.Emitter,
	audit *Auditor,
	c clock.Clock,
	cfg AdminGateConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *AdminGate {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 60 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if emit == nil {
		emit = events.Nop{}
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &AdminGate{
		policy:  policy,
		emit:    emit,
		audit:   audit,
		clock:   c,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tokens:  make(map[string]time.Time),
	}
}

// Request arms the gate for sessionID. A later request replaces the
// originating session.
func (g *AdminGate) Request(sessionID string) {
	g.mu.Lock()
	g.pending = true
	g.sessionID = sessionID
	g.mu.Unlock()
	g.emit.SendTo(sessionID, types.EventAdminCardScanRequest, types.AdminCardScanRequest{Message: "Scan Admin Card"})
}

func (g *AdminGate) Cancel() {
	g.mu.Lock()
	g.pending = false
	g.mu.Unlock()
}

func (g *AdminGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// HandleCard checks cardID against the allow-list, reports the outcome to
// the originating session, and disarms the gate after the settle delay.
func (g *AdminGate) HandleCard(ctx context.Context, cardID string) bool {
	cardID = strings.TrimSpace(cardID)
	_, granted := g.policy.AdminCardIDs[cardID]

	resp := types.AdminAuthenticated{Success: granted}
	outcome := OutcomeAdminDenied
	if granted {
		resp.Token = g.mint()
		outcome = OutcomeAdminGranted
	}

	g.mu.Lock()
	sessionID := g.sessionID
	g.mu.Unlock()
	if sessionID != "" {
		g.emit.SendTo(sessionID, types.EventAdminAuthenticated, resp)
	}
	g.logger.Infof("admin: card scan %s", outcome)
	g.audit.Record(ctx, cardID, outcome, "", "")
	g.metrics.ScanOutcome(outcome)

	_ = clock.SleepContext(ctx, g.clock, g.cfg.Settle)
	g.mu.Lock()
	g.pending = false
	g.sessionID = ""
	g.mu.Unlock()
	return granted
}

func (g *AdminGate) mint() string {
	now := g.clock.Now()
	token := uuid.NewString()

	g.mu.Lock()
	defer g.mu.Unlock()
	for t, issued := range g.tokens {
		if now.Sub(issued) >= g.cfg.TokenTTL {
			delete(g.tokens, t)
		}
	}
	g.tokens[token] = now
	return token
}

// Redeem consumes token. A token is accepted once, within TokenTTL of
// issuance; an expired token is dropped.
func (g *AdminGate) Redeem(token string) error {
	token = strings.TrimSpace(token)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	issued, ok := g.tokens[token]
	if !ok {
		return ErrTokenInvalid
	}
	delete(g.tokens, token)
	if now.Sub(issued) >= g.cfg.TokenTTL {
		return ErrTokenExpired
	}
	return nil
}
