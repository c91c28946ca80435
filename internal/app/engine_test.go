package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attempt-engine/internal/app"
	"attempt-engine/internal/domain"
	"github.com/jonboulle/clockwork"
)

func TestStartSharesSessionPerCaller(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)

	var wg sync.WaitGroup
	sessions := make([]*app.Session, 4)
	errs := make([]error, len(sessions))
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = h.engine.Start(context.Background(), "quiz-1", "alice")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatalf("expected one shared session per caller")
		}
	}

	for _, s := range sessions[:3] {
		s.Release()
	}
	if h.sessions.Len() != 1 {
		t.Fatalf("expected session kept while a holder remains")
	}
	sessions[3].Release()
	if h.sessions.Len() != 0 {
		t.Fatalf("expected session removed after last release")
	}
}

func TestStartFailsForUnknownQuiz(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)

	_, err := h.engine.Start(context.Background(), "missing", "alice")
	if !errors.Is(err, domain.ErrStartFailed) || !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrStartFailed wrapping ErrQuizNotFound, got %v", err)
	}
	if h.sessions.Len() != 0 {
		t.Fatalf("expected no session after failed start")
	}
}

func TestLastWriteWinsPerQuestion(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	hold := make(chan struct{})
	h.store.holdSave = hold

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()

	if err := session.ChangeAnswer("q2", []string{"a"}); err != nil {
		t.Fatalf("change: %v", err)
	}
	select {
	case <-h.store.saveStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("first save never started")
	}

	// Both land while the first round trip is open.
	if err := session.ChangeAnswer("q2", []string{"a", "c"}); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := session.SelectOption("q2", "a"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	close(hold)

	waitSnapshot(t, session, "q2 saved", allSaved)

	saves := h.store.savesFor("q2")
	if len(saves) != 2 {
		t.Fatalf("expected two sends for q2, got %v", saves)
	}
	if last := saves[1]; len(last) != 1 || last[0] != "c" {
		t.Fatalf("expected latest selection [c] sent last, got %v", last)
	}
	stored, _ := h.store.Attempt(session.AttemptID())
	if got := stored.Answers["q2"]; len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected store to hold [c], got %v", got)
	}
}

func TestSelectOptionTogglesByQuestionType(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	session := h.start(t, "quiz-1", "alice")
	defer session.Release()

	for _, opt := range []string{"a", "c", "a"} {
		if err := session.SelectOption("q2", opt); err != nil {
			t.Fatalf("select %s: %v", opt, err)
		}
	}
	for _, opt := range []string{"o1", "o2"} {
		if err := session.SelectOption("q1", opt); err != nil {
			t.Fatalf("select %s: %v", opt, err)
		}
	}

	answers := session.Snapshot().Attempt.Answers
	if got := answers["q2"]; len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected MULTIPLE toggle to leave [c], got %v", got)
	}
	if got := answers["q1"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected SINGLE to replace with [o2], got %v", got)
	}

	if err := session.ChangeAnswer("q1", []string{"o1", "o2"}); !errors.Is(err, domain.ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if err := session.SelectOption("q1", "zz"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound, got %v", err)
	}
	if err := session.SelectOption("nope", "o1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestConcurrentUserAndTimeoutSubmitOnce(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), func(o *app.Options) {
		o.TickInterval = time.Millisecond
		o.ReconcileInterval = 0
	})
	hold := make(chan struct{})
	h.store.holdSubmit = hold

	session := h.start(t, "sprint", "alice")
	defer session.Release()

	// The one-second quiz expires on the first tick and the timeout submit
	// blocks in the store.
	select {
	case <-h.store.submitStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout submit never started")
	}
	if err := session.SelectOption("q1", "o1"); !errors.Is(err, domain.ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable while submitting, got %v", err)
	}

	var wg sync.WaitGroup
	views := make([]app.ResultView, 3)
	errs := make([]error, len(views))
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = session.Submit(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(hold)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if views[i].AttemptID != session.AttemptID() {
			t.Fatalf("unexpected result %+v", views[i])
		}
	}
	if n := h.store.submitCount(); n != 1 {
		t.Fatalf("expected exactly one submit, got %d", n)
	}
	snap := session.Snapshot()
	if snap.Phase != app.PhaseSubmitted || snap.Countdown != app.CountdownExpired {
		t.Fatalf("expected SUBMITTED after expiry, got phase=%s countdown=%s", snap.Phase, snap.Countdown)
	}
}

func TestResumeRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(t, clock, nil)

	first := h.start(t, "quiz-1", "alice")
	attemptID := first.AttemptID()
	if first.Snapshot().Resumed {
		t.Fatalf("expected a fresh attempt on first entry")
	}
	if err := first.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := first.ChangeAnswer("q2", []string{"c", "a"}); err != nil {
		t.Fatalf("change: %v", err)
	}
	waitSnapshot(t, first, "answers saved", allSaved)
	first.Release()

	// Reload 300 seconds into a 600 second quiz.
	clock.Advance(300 * time.Second)

	second := h.start(t, "quiz-1", "alice")
	defer second.Release()
	snap := second.Snapshot()
	if !snap.Resumed || snap.Attempt.ID != attemptID {
		t.Fatalf("expected to resume %s, got %+v", attemptID, snap.Attempt)
	}
	if snap.Attempt.RemainingSeconds != 300 {
		t.Fatalf("expected 300s remaining, got %d", snap.Attempt.RemainingSeconds)
	}
	if got := snap.Attempt.Answers["q1"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected q1 rehydrated, got %v", got)
	}
	if got := snap.Attempt.Answers["q2"]; len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected q2 rehydrated, got %v", got)
	}
	if snap.Countdown != app.CountdownRunning {
		t.Fatalf("expected countdown running, got %s", snap.Countdown)
	}

	view, err := second.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Score != 3 || view.MaxScore != 4 {
		t.Fatalf("expected 3/4, got %d/%d", view.Score, view.MaxScore)
	}
}

func TestFailedSubmitKeepsAttemptInProgress(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	h.store.failSubmits = 1

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()
	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	waitSnapshot(t, session, "q1 saved", allSaved)

	_, err := session.Submit(context.Background())
	if !errors.Is(err, domain.ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	snap := session.Snapshot()
	if snap.Phase != app.PhaseError || snap.Error == "" {
		t.Fatalf("expected ERROR phase with message, got %+v", snap)
	}
	if snap.Attempt.Status != domain.AttemptInProgress {
		t.Fatalf("expected attempt still in progress, got %s", snap.Attempt.Status)
	}
	stored, _ := h.store.Attempt(session.AttemptID())
	if stored.Status != domain.AttemptInProgress {
		t.Fatalf("expected store attempt in progress, got %s", stored.Status)
	}

	// Leaving and coming back finds the same attempt with its answers.
	session.Release()
	resumed := h.start(t, "quiz-1", "alice")
	defer resumed.Release()
	if resumed == session {
		t.Fatalf("expected a fresh session after release")
	}
	snap = resumed.Snapshot()
	if !snap.Resumed || snap.Attempt.ID != session.AttemptID() || snap.Phase != app.PhaseInProgress {
		t.Fatalf("expected in-progress attempt %s resumed, got %+v", session.AttemptID(), snap)
	}
	if got := snap.Attempt.Answers["q1"]; len(got) != 1 || got[0] != "o2" {
		t.Fatalf("expected q1 answer rehydrated, got %v", snap.Attempt.Answers)
	}

	// Answers stay editable and a retry succeeds.
	if err := resumed.ChangeAnswer("q3", []string{"y"}); err != nil {
		t.Fatalf("change after failed submit: %v", err)
	}
	view, err := resumed.Submit(context.Background())
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if view.Score != 2 {
		t.Fatalf("expected 2 points, got %d", view.Score)
	}
	if n := h.store.submitCount(); n != 2 {
		t.Fatalf("expected two submit calls, got %d", n)
	}
	if _, err := resumed.Submit(context.Background()); err != nil {
		t.Fatalf("submit after success: %v", err)
	}
	if n := h.store.submitCount(); n != 2 {
		t.Fatalf("expected cached result after success, got %d calls", n)
	}
}

func TestAutosaveDebounceSendsLatestSelectionOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(t, clock, func(o *app.Options) {
		o.AutosaveDebounce = 500 * time.Millisecond
		o.ReconcileInterval = 0
	})

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()
	if err := session.ChangeAnswer("q2", []string{"a"}); err != nil {
		t.Fatalf("change: %v", err)
	}
	if err := session.ChangeAnswer("q2", []string{"a", "c"}); err != nil {
		t.Fatalf("change: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// countdown ticker and debounce timer
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("debounce timer not armed: %v", err)
	}
	if saves := h.store.savesFor("q2"); len(saves) != 0 {
		t.Fatalf("expected nothing sent inside the debounce window, got %v", saves)
	}

	clock.Advance(500 * time.Millisecond)
	waitSnapshot(t, session, "q2 saved", allSaved)

	saves := h.store.savesFor("q2")
	if len(saves) != 1 {
		t.Fatalf("expected one send for q2, got %v", saves)
	}
	if got := saves[0]; len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected latest selection [a c], got %v", got)
	}
}

func TestSubmitSupersedesInFlightSave(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	hold := make(chan struct{})
	h.store.holdSave = hold

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()
	if err := session.SelectOption("q1", "o1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	select {
	case <-h.store.saveStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("save never started")
	}

	view, err := session.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	close(hold)
	session.SaveProgress()

	stored, _ := h.store.Attempt(view.AttemptID)
	if stored.Status != domain.AttemptSubmitted {
		t.Fatalf("expected store attempt submitted, got %s", stored.Status)
	}
	if got := stored.Answers["q1"]; len(got) != 1 || got[0] != "o1" {
		t.Fatalf("expected submitted q1 answer kept, got %v", stored.Answers)
	}
	if saves := h.store.savesFor("q1"); len(saves) != 1 {
		t.Fatalf("expected no save after submit, got %v", saves)
	}
	snap := session.Snapshot()
	if snap.Phase != app.PhaseSubmitted || len(snap.Unsaved) != 0 || snap.Notice != "" {
		t.Fatalf("expected clean submitted snapshot, got %+v", snap)
	}
}

func TestSaveRejectedAsSubmittedIsDroppedSilently(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), func(o *app.Options) {
		o.AutosaveMaxFailures = 1
	})
	session := h.start(t, "quiz-1", "alice")

	// Another process finalized the attempt behind this session's back.
	if _, err := h.store.AssessmentStore.SubmitAttempt(context.Background(), session.AttemptID(), domain.Answers{}); err != nil {
		t.Fatalf("out-of-band submit: %v", err)
	}
	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.store.savesFor("q1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("save never attempted")
		}
		time.Sleep(2 * time.Millisecond)
	}
	// Release waits for the autosave worker to finish.
	session.Release()

	snap := session.Snapshot()
	if snap.Notice != "" || snap.AutosaveDegraded {
		t.Fatalf("expected stale save dropped without notice, got %+v", snap)
	}
	stored, _ := h.store.Attempt(session.AttemptID())
	if len(stored.Answers) != 0 {
		t.Fatalf("expected submitted answers untouched, got %v", stored.Answers)
	}
}

func TestSubmitSurvivesLastRelease(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	hold := make(chan struct{})
	h.store.holdSubmit = hold

	session := h.start(t, "quiz-1", "alice")
	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	waitSnapshot(t, session, "q1 saved", allSaved)

	done := make(chan error, 1)
	go func() {
		_, err := session.Submit(context.Background())
		done <- err
	}()
	select {
	case <-h.store.submitStarted:
	case <-time.After(5 * time.Second):
		t.Fatalf("submit never started")
	}

	// The caller navigates away while the store call is open.
	session.Release()
	close(hold)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("submit never finished")
	}
	stored, _ := h.store.Attempt(session.AttemptID())
	if stored.Status != domain.AttemptSubmitted {
		t.Fatalf("expected attempt submitted despite release, got %s", stored.Status)
	}
}

func TestFailedAutosaveIsStillSubmitted(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), func(o *app.Options) {
		o.AutosaveMaxFailures = 2
	})
	h.store.failSave["q3"] = true

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()
	for qid, opt := range map[string]string{"q1": "o2", "q2": "a", "q3": "y"} {
		if err := session.SelectOption(qid, opt); err != nil {
			t.Fatalf("select %s: %v", qid, err)
		}
	}

	snap := waitSnapshot(t, session, "q3 failure notice", func(s app.Snapshot) bool {
		return len(s.Unsaved) == 1 && s.Unsaved[0] == "q3" && s.Notice != ""
	})
	if snap.Phase != app.PhaseInProgress {
		t.Fatalf("autosave failure must not change phase, got %s", snap.Phase)
	}

	session.SaveProgress()
	waitSnapshot(t, session, "degraded flag", func(s app.Snapshot) bool { return s.AutosaveDegraded })

	view, err := session.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.store.mu.Lock()
	submitted := h.store.submitted
	h.store.mu.Unlock()
	if got := submitted["q3"]; len(got) != 1 || got[0] != "y" {
		t.Fatalf("expected q3 in submitted answers, got %v", submitted)
	}
	if !view.Questions[2].Correct {
		t.Fatalf("expected q3 graded correct, got %+v", view.Questions[2])
	}
}

func TestTimeoutAfterSixHundredTicks(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), func(o *app.Options) {
		o.TickInterval = time.Millisecond
		o.ReconcileInterval = 0
	})

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()
	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	last := 600
	for {
		snap := session.Snapshot()
		if snap.Attempt.RemainingSeconds < 0 || snap.Attempt.RemainingSeconds > last {
			t.Fatalf("remaining went from %d to %d", last, snap.Attempt.RemainingSeconds)
		}
		last = snap.Attempt.RemainingSeconds
		if snap.Phase == app.PhaseSubmitted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt never timed out; last snapshot %+v", snap)
		}
		time.Sleep(time.Millisecond)
	}

	view, ok := session.Result()
	if !ok || view.Score != 1 {
		t.Fatalf("expected timeout submit with q1 correct, got %+v", view)
	}
	if n := h.store.submitCount(); n != 1 {
		t.Fatalf("expected one submit on timeout, got %d", n)
	}
	if last != 0 {
		t.Fatalf("expected countdown to end at 0, got %d", last)
	}
}

func TestReconcileSnapsToServerAndExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := newHarness(t, clock, func(o *app.Options) {
		o.ReconcileInterval = 15 * time.Second
	})

	session := h.start(t, "quiz-1", "alice")
	defer session.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// tick and reconcile tickers
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("countdown tickers not started: %v", err)
	}

	clock.Advance(600 * time.Second)
	snap := waitSnapshot(t, session, "timeout submit", func(s app.Snapshot) bool {
		return s.Phase == app.PhaseSubmitted
	})
	if snap.Attempt.RemainingSeconds != 0 || snap.Countdown != app.CountdownExpired {
		t.Fatalf("expected expired at 0, got %d %s", snap.Attempt.RemainingSeconds, snap.Countdown)
	}
	if n := h.store.submitCount(); n != 1 {
		t.Fatalf("expected one submit, got %d", n)
	}
}

func TestReleaseNeverSubmits(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	session := h.start(t, "quiz-1", "alice")
	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	waitSnapshot(t, session, "saved", allSaved)
	session.Release()

	if n := h.store.submitCount(); n != 0 {
		t.Fatalf("expected no submit on release, got %d", n)
	}
	if err := session.SelectOption("q1", "o1"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	updates, _ := session.Subscribe()
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel from released session")
	}
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), nil)
	session := h.start(t, "quiz-1", "alice")
	defer session.Release()

	updates, cancel := session.Subscribe()
	defer cancel()
	initial := <-updates
	if initial.Phase != app.PhaseInProgress {
		t.Fatalf("expected initial IN_PROGRESS, got %s", initial.Phase)
	}

	if err := session.SelectOption("q1", "o2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-updates:
			if len(snap.Attempt.Answers["q1"]) == 1 {
				return
			}
		case <-timeout:
			t.Fatalf("no snapshot with the new answer")
		}
	}
}
