package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/oracle"
	"github.com/jholhewres/companion/pkg/companion/store"
)

type memStore struct {
	mu      sync.Mutex
	actions map[string]*store.Action
	nextID  int
}

func newMemStore() *memStore {
	return &memStore{actions: make(map[string]*store.Action)}
}

func (s *memStore) Insert(a *store.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("child-%d", s.nextID)
	cp := *a
	cp.ID = id
	cp.Status = store.StatusScheduled
	s.actions[id] = &cp
	return id, nil
}

func (s *memStore) DueActions(now time.Time) ([]*store.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Action
	for _, a := range s.actions {
		if (a.Status == store.StatusScheduled || a.Status == store.StatusActive) && !a.TriggerTime.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(id string, status store.Status, attemptCount *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.actions[id]
	a.Status = status
	if attemptCount != nil {
		a.AttemptCount = *attemptCount
	}
	return nil
}

func (s *memStore) Reschedule(id string, newTriggerTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[id].TriggerTime = newTriggerTime
	return nil
}

func (s *memStore) ListAll() ([]*store.Action, error) { return nil, nil }

func (s *memStore) Get(id string) (*store.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[id], nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

type fixedJudge struct {
	verdict *oracle.Verdict
}

func (f *fixedJudge) Judge(ctx context.Context, a *store.Action, now time.Time) *oracle.Verdict {
	return f.verdict
}

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]hardware.ActionTuple
}

func (d *recordingDispatcher) Dispatch(actions []hardware.ActionTuple) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, actions)
}

type fakeVoice struct {
	mu    sync.Mutex
	lines []string
}

func (v *fakeVoice) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lines = append(v.lines, text)
	return nil
}

func TestTickMarksCompletedActionDone(t *testing.T) {
	st := newMemStore()
	st.actions["a1"] = &store.Action{ID: "a1", Command: "wave", Status: store.StatusScheduled, TriggerTime: time.Now().Add(-time.Second)}

	judge := &fixedJudge{verdict: &oracle.Verdict{VoiceResponse: "done", Completed: true}}
	dispatcher := &recordingDispatcher{}
	voice := &fakeVoice{}

	e := New(st, judge, dispatcher, voice, time.Hour, nil)
	e.tick(context.Background())

	got, _ := st.Get("a1")
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed status, got %s", got.Status)
	}
	if len(voice.lines) != 1 || voice.lines[0] != "done" {
		t.Fatalf("expected voice to speak verdict text, got %v", voice.lines)
	}
}

func TestTickSpawnsRecurringChildOnCompletion(t *testing.T) {
	st := newMemStore()
	st.actions["a1"] = &store.Action{
		ID: "a1", Command: "check mail", Status: store.StatusScheduled,
		TriggerTime: time.Now().Add(-time.Second),
		Recurring: true, RecurringIntervalSeconds: 3600,
	}

	judge := &fixedJudge{verdict: &oracle.Verdict{Completed: true}}
	e := New(st, judge, &recordingDispatcher{}, &fakeVoice{}, time.Hour, nil)
	e.tick(context.Background())

	var childFound bool
	for id, a := range st.actions {
		if id != "a1" && a.ParentRecurringID == "a1" {
			childFound = true
		}
	}
	if !childFound {
		t.Fatal("expected a recurring child action to be spawned")
	}
}

func TestTickSpawnsCronRecurringChildAtCronNextFireNotNow(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.actions["a1"] = &store.Action{
		ID: "a1", Command: "standup", Status: store.StatusScheduled,
		TriggerTime: now.Add(-time.Second),
		Recurring:   true, RecurringCron: "0 9 * * *",
	}

	judge := &fixedJudge{verdict: &oracle.Verdict{Completed: true}}
	e := New(st, judge, &recordingDispatcher{}, &fakeVoice{}, time.Hour, nil)
	e.tick(context.Background())

	var child *store.Action
	for id, a := range st.actions {
		if id != "a1" && a.ParentRecurringID == "a1" {
			child = a
		}
	}
	if child == nil {
		t.Fatal("expected a recurring child action to be spawned")
	}
	if !child.TriggerTime.After(now.Add(time.Minute)) {
		t.Fatalf("expected cron-resolved trigger time well in the future, got %v (now=%v)", child.TriggerTime, now)
	}
	if child.RecurringCron != "0 9 * * *" {
		t.Fatalf("expected RecurringCron to propagate to the child, got %q", child.RecurringCron)
	}
}

func TestTickExpiresActionPastRetryUntil(t *testing.T) {
	st := newMemStore()
	past := time.Now().Add(-time.Minute)
	st.actions["a1"] = &store.Action{
		ID: "a1", Command: "wait for package", Status: store.StatusScheduled,
		TriggerTime: time.Now().Add(-time.Second),
		RetryUntil:  &past,
	}

	judge := &fixedJudge{verdict: &oracle.Verdict{ShouldRetry: true, RetryDelaySeconds: 10}}
	e := New(st, judge, &recordingDispatcher{}, &fakeVoice{}, time.Hour, nil)
	e.tick(context.Background())

	got, _ := st.Get("a1")
	if got.Status != store.StatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
}

func TestTickReschedulesOnRetryAndIncrementsAttempt(t *testing.T) {
	st := newMemStore()
	st.actions["a1"] = &store.Action{
		ID: "a1", Command: "wait for package", Status: store.StatusScheduled,
		TriggerTime: time.Now().Add(-time.Second), AttemptCount: 1,
	}

	judge := &fixedJudge{verdict: &oracle.Verdict{ShouldRetry: true, RetryDelaySeconds: 30}}
	e := New(st, judge, &recordingDispatcher{}, &fakeVoice{}, time.Hour, nil)
	e.tick(context.Background())

	got, _ := st.Get("a1")
	if got.Status != store.StatusScheduled {
		t.Fatalf("expected rescheduled status, got %s", got.Status)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("expected attempt count incremented to 2, got %d", got.AttemptCount)
	}
	if !got.TriggerTime.After(time.Now().Add(20 * time.Second)) {
		t.Fatalf("expected trigger time pushed ~30s out, got %v", got.TriggerTime)
	}
}

func TestProcessOnePanicIsRecovered(t *testing.T) {
	st := newMemStore()
	st.actions["a1"] = &store.Action{ID: "a1", Status: store.StatusScheduled, TriggerTime: time.Now()}

	judge := &panicJudge{}
	e := New(st, judge, &recordingDispatcher{}, &fakeVoice{}, time.Hour, nil)

	e.processOne(context.Background(), st.actions["a1"], time.Now())

	got, _ := st.Get("a1")
	if got.Status != store.StatusActive {
		t.Fatalf("expected action left active after panic, got %s", got.Status)
	}
}

type panicJudge struct{}

func (panicJudge) Judge(ctx context.Context, a *store.Action, now time.Time) *oracle.Verdict {
	panic("boom")
}
