package redis

import (
	"context"
	"testing"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"attempt-engine/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

func TestSessionStoreSetsAndClearsKeys(t *testing.T) {
	mr, client := newRedis(t)
	sessions := NewSessionStore(client, time.Minute, "node-a")

	clock := clockwork.NewFakeClock()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	}), time.Minute)
	store := memory.NewAssessmentStoreWithClock(quizzes, clock)
	opts := app.DefaultOptions()
	opts.Clock = clock
	engine := app.NewEngine(store, quizzes, sessions, opts)

	session, err := engine.Start(context.Background(), "quiz-1", "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	owner, err := mr.Get("attempt:session:quiz-1:alice")
	if err != nil {
		t.Fatalf("expected redis key to be set: %v", err)
	}
	if owner != "node-a" {
		t.Fatalf("expected owner node-a, got %q", owner)
	}
	if got, ok := sessions.Get(session.Key()); !ok || got != session {
		t.Fatalf("expected session registered locally")
	}

	session.Release()
	if mr.Exists("attempt:session:quiz-1:alice") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := sessions.Get(session.Key()); ok {
		t.Fatalf("expected session removed locally")
	}
}

func TestSessionStoreRefreshesMarkerOnAttach(t *testing.T) {
	mr, client := newRedis(t)
	sessions := NewSessionStore(client, time.Minute, "node-a")

	clock := clockwork.NewFakeClock()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	}), time.Minute)
	opts := app.DefaultOptions()
	opts.Clock = clock
	engine := app.NewEngine(memory.NewAssessmentStoreWithClock(quizzes, clock), quizzes, sessions, opts)

	first, err := engine.Start(context.Background(), "quiz-1", "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer first.Release()

	mr.FastForward(40 * time.Second)
	second, err := engine.Start(context.Background(), "quiz-1", "alice")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer second.Release()
	if second != first {
		t.Fatalf("expected attach to the live session")
	}

	mr.FastForward(40 * time.Second)
	if !mr.Exists("attempt:session:quiz-1:alice") {
		t.Fatalf("expected marker refreshed by attach")
	}
	if ttl := mr.TTL("attempt:session:quiz-1:alice"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected marker ttl within a minute, got %s", ttl)
	}
}
