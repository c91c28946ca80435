package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"attempt-engine/internal/domain"
	"github.com/jonboulle/clockwork"
)

type remainingStore struct {
	AssessmentStore
	remaining atomic.Int32
}

func (s *remainingStore) GetRemainingTime(context.Context, string) (int, error) {
	return int(s.remaining.Load()), nil
}

func newTestCountdown(t *testing.T, onExpire func()) (*Countdown, *Session) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	session := newSession("quiz-1:alice", Resolution{
		Attempt: domain.Attempt{ID: "at-1", QuizID: "quiz-1", Status: domain.AttemptInProgress},
		Quiz:    domain.Quiz{ID: "quiz-1", DurationSeconds: 2},
	}, clock, 0.6)
	countdown := newCountdown(session, &remainingStore{}, clock, time.Second, 0, onExpire)
	return countdown, session
}

func TestCountdownNeverNegativeAndExpiresOnce(t *testing.T) {
	countdown, session := newTestCountdown(t, func() {})
	// Drive the handlers directly; no loop is running.
	countdown.state = CountdownRunning
	countdown.remaining = 2

	if countdown.handleTick() {
		t.Fatalf("expired too early")
	}
	if !countdown.handleTick() {
		t.Fatalf("expected expiry at zero")
	}
	for i := 0; i < 3; i++ {
		if countdown.handleTick() {
			t.Fatalf("expired twice")
		}
	}
	if countdown.applyServerRemaining(-5) {
		t.Fatalf("server snap after expiry must be ignored")
	}
	state, remaining := countdown.State()
	if state != CountdownExpired || remaining != 0 {
		t.Fatalf("expected EXPIRED at 0, got %s %d", state, remaining)
	}
	if got := session.Snapshot().Attempt.RemainingSeconds; got != 0 {
		t.Fatalf("expected session remaining 0, got %d", got)
	}
}

func TestCountdownSnapClampsAndExpires(t *testing.T) {
	countdown, _ := newTestCountdown(t, func() {})
	countdown.state = CountdownRunning
	countdown.remaining = 40

	if countdown.applyServerRemaining(25) {
		t.Fatalf("unexpected expiry")
	}
	if _, remaining := countdown.State(); remaining != 25 {
		t.Fatalf("expected snap to 25, got %d", remaining)
	}
	if !countdown.applyServerRemaining(-3) {
		t.Fatalf("expected negative server time to clamp and expire")
	}
	if _, remaining := countdown.State(); remaining != 0 {
		t.Fatalf("expected 0, got %d", remaining)
	}
}

func TestCountdownStopBeforeTick(t *testing.T) {
	countdown, _ := newTestCountdown(t, func() { t.Errorf("stopped countdown must not expire") })
	countdown.state = CountdownRunning
	countdown.remaining = 1

	countdown.Stop()
	if countdown.handleTick() {
		t.Fatalf("tick after stop must be ignored")
	}
	countdown.Stop()
	if state, _ := countdown.State(); state != CountdownStopped {
		t.Fatalf("expected STOPPED, got %s", state)
	}
}

func TestCountdownStartAtZeroExpiresImmediately(t *testing.T) {
	expired := make(chan struct{}, 2)
	countdown, _ := newTestCountdown(t, func() { expired <- struct{}{} })

	countdown.Start(context.Background(), 0)
	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected immediate expiry")
	}
	countdown.Start(context.Background(), 10)
	if state, _ := countdown.State(); state != CountdownExpired {
		t.Fatalf("expected Start to be a no-op after expiry, got %s", state)
	}
	select {
	case <-expired:
		t.Fatalf("expired twice")
	case <-time.After(20 * time.Millisecond):
	}
}
