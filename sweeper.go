package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"
)

// SweeperConfig tunes the background settlement loop for upto sessions
// (spec §4.E).
type SweeperConfig struct {
	// Interval between sweep passes.
	Interval time.Duration
	// DeadlineMargin: sessions within this much of their deadline are
	// settled preemptively rather than risking a settle-after-expiry
	// revert.
	DeadlineMargin time.Duration
	// IdleTimeout: sessions with no activity for this long are settled
	// even though neither the cap nor the deadline has been reached.
	IdleTimeout time.Duration
	// SafetyAge: any open session with no activity for this long is swept
	// unconditionally, as a catch-all against trigger logic that missed it.
	SafetyAge time.Duration
	// Concurrency bounds how many sessions are settled at once.
	Concurrency int
}

// DefaultSweeperConfig matches the defaults described in spec §4.E.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       30 * time.Second,
		DeadlineMargin: 60 * time.Second,
		IdleTimeout:    2 * time.Minute,
		SafetyAge:      30 * time.Minute,
		Concurrency:    8,
	}
}

// Sweeper periodically settles upto sessions that have reached one of the
// priority-ordered trigger conditions in spec §4.E: cap exhaustion, deadline
// approaching, idle timeout, explicit close, and periodic safety sweep.
type Sweeper struct {
	facilitator *x402Facilitator
	config      SweeperConfig
	logger      Logger
}

func NewSweeper(facilitator *x402Facilitator, config SweeperConfig, logger Logger) *Sweeper {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Sweeper{facilitator: facilitator, config: config, logger: logger}
}

// Run blocks, sweeping on config.Interval until ctx is cancelled. Callers
// typically run this in its own goroutine and cancel ctx on shutdown.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("sweep pass failed", "error", err)
			}
		}
	}
}

type sweepTrigger struct {
	session  *Session
	reason   string
	priority int
}

// SweepOnce runs a single sweep pass: it evaluates every open session
// against the trigger conditions, then settles the triggered ones
// concurrently, bounded by config.Concurrency. Sessions are settled in
// priority order within each concurrency wave (cap exhaustion first).
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	sessions, err := s.facilitator.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	nowMs := time.Now().UnixMilli()
	var triggers []sweepTrigger
	for _, session := range sessions {
		if session.Status != SessionOpen {
			continue
		}
		if trigger, ok := s.evaluate(session, nowMs); ok {
			triggers = append(triggers, trigger)
		}
	}
	if len(triggers) == 0 {
		return nil
	}

	sortTriggersByPriority(triggers)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.config.Concurrency)
	for _, t := range triggers {
		t := t
		group.Go(func() error {
			if err := s.facilitator.settleSession(gctx, t.session, t.reason); err != nil {
				s.logger.Warn("sweep settle failed", "session", t.session.ID, "reason", t.reason, "error", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// evaluate checks a session against the automatic trigger conditions, in
// priority order (spec §4.E): cap exhaustion, deadline approaching, idle
// timeout, periodic safety sweep. Explicit close is not evaluated here — it
// is driven by CloseSession, which callers invoke directly (nothing in this
// module calls it).
func (s *Sweeper) evaluate(session *Session, nowMs int64) (sweepTrigger, bool) {
	if capExhausted(session) {
		return sweepTrigger{session: session, reason: "cap_exhausted", priority: 0}, true
	}
	deadlineMs := session.Deadline * 1000
	if deadlineMs > 0 && nowMs+s.config.DeadlineMargin.Milliseconds() >= deadlineMs {
		return sweepTrigger{session: session, reason: "deadline_approaching", priority: 1}, true
	}
	if s.config.IdleTimeout > 0 && nowMs-session.LastActivityMs >= s.config.IdleTimeout.Milliseconds() {
		return sweepTrigger{session: session, reason: "idle_timeout", priority: 2}, true
	}
	if s.config.SafetyAge > 0 && nowMs-session.LastActivityMs >= s.config.SafetyAge.Milliseconds() {
		return sweepTrigger{session: session, reason: "safety_sweep", priority: 3}, true
	}
	return sweepTrigger{}, false
}

func capExhausted(session *Session) bool {
	cap, ok := new(big.Int).SetString(session.Cap, 10)
	if !ok {
		return false
	}
	spent, ok := new(big.Int).SetString(session.PendingSpent, 10)
	if !ok {
		return false
	}
	return spent.Cmp(cap) >= 0
}

func sortTriggersByPriority(triggers []sweepTrigger) {
	for i := 1; i < len(triggers); i++ {
		for j := i; j > 0 && triggers[j].priority < triggers[j-1].priority; j-- {
			triggers[j], triggers[j-1] = triggers[j-1], triggers[j]
		}
	}
}

// CloseSession settles a session immediately on explicit request (spec
// §4.E trigger 4), e.g. from a client-initiated close or an admin endpoint.
func (f *x402Facilitator) CloseSession(ctx context.Context, sessionID string) error {
	session, ok, err := f.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no session %s", sessionID)
	}
	if session.Status != SessionOpen {
		return fmt.Errorf("session %s is not open (status=%s)", sessionID, session.Status)
	}
	return f.settleSession(ctx, session, "explicit_close")
}

// settleSession transitions a session through settling and records the
// outcome (spec §4.F). On failure the session reopens so a later sweep can
// retry; it is never left stuck in "settling".
func (f *x402Facilitator) settleSession(ctx context.Context, session *Session, reason string) error {
	session.Status = SessionSettling
	if err := f.store.Set(ctx, session); err != nil {
		return err
	}

	payloadBytes, err := json.Marshal(session.PaymentPayload)
	if err != nil {
		return err
	}
	// Settle the spend accumulated since the session was opened or last
	// settled, not the single request's price the requirements were built with.
	requirements := session.PaymentRequirements
	requirements.Amount = session.PendingSpent
	reqBytes, err := json.Marshal(requirements)
	if err != nil {
		return err
	}
	// The session's stored payload was verified when it was opened or last
	// topped up; the sweeper settles on the facilitator's behalf rather than
	// in response to a fresh client-initiated settle call, so it marks the
	// tracking entry itself instead of going through another Verify.
	f.verifiedTracking.Store(trackingKey(session.PaymentPayload, requirements), struct{}{})

	resp, settleErr := f.Settle(ctx, payloadBytes, reqBytes)
	record := &SettlementRecord{AtMs: time.Now().UnixMilli(), Reason: reason, Receipt: resp}
	session.LastSettlement = record

	if settleErr != nil || !resp.Success {
		session.Status = SessionOpen
		if err := f.store.Set(ctx, session); err != nil {
			return err
		}
		if settleErr != nil {
			return settleErr
		}
		return fmt.Errorf("settlement unsuccessful: %s", resp.ErrorReason)
	}

	settled, _ := new(big.Int).SetString(session.SettledTotal, 10)
	if settled == nil {
		settled = big.NewInt(0)
	}
	pending, _ := new(big.Int).SetString(session.PendingSpent, 10)
	if pending == nil {
		pending = big.NewInt(0)
	}
	session.SettledTotal = new(big.Int).Add(settled, pending).String()
	session.PendingSpent = "0"
	session.Status = SessionClosed
	return f.store.Set(ctx, session)
}
