package dialogue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/intent"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/store"
)

type scriptedWake struct {
	transcripts []string
	idx         int
	mu          sync.Mutex
}

func (w *scriptedWake) Wait(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.idx >= len(w.transcripts) {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type scriptedSTT struct {
	wake *scriptedWake
}

func (s *scriptedSTT) Record(ctx context.Context) (string, error) {
	s.wake.mu.Lock()
	defer s.wake.mu.Unlock()
	if s.wake.idx >= len(s.wake.transcripts) {
		return "", errors.New("no more transcripts")
	}
	t := s.wake.transcripts[s.wake.idx]
	s.wake.idx++
	return t, nil
}

type fakeCamera struct{}

func (fakeCamera) CenterOnFace(ctx context.Context) error                    { return nil }
func (fakeCamera) CaptureFrameJPEGBase64(ctx context.Context) (string, error) { return "", nil }

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

func (v *fakeVoice) Lines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.lines))
	copy(out, v.lines)
	return out
}

type fakeRobotState struct{}

func (fakeRobotState) State() hardware.State { return hardware.State{} }

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]hardware.ActionTuple
}

func (d *recordingDispatcher) Dispatch(actions []hardware.ActionTuple) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, actions)
}

type memStore struct {
	mu      sync.Mutex
	inserts []*store.Action
}

func (s *memStore) Insert(a *store.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, a)
	return "id1", nil
}
func (s *memStore) DueActions(now time.Time) ([]*store.Action, error) { return nil, nil }
func (s *memStore) UpdateStatus(id string, status store.Status, attemptCount *int) error {
	return nil
}
func (s *memStore) Reschedule(id string, newTriggerTime time.Time) error { return nil }
func (s *memStore) ListAll() ([]*store.Action, error)                    { return nil, nil }
func (s *memStore) Get(id string) (*store.Action, error)                { return nil, nil }
func (s *memStore) Delete(id string) error                              { return nil }

func newTestLoop(t *testing.T, transcripts []string, llmServerHandler http.HandlerFunc) (*Loop, *fakeVoice, *memStore, *recordingDispatcher) {
	t.Helper()
	server := httptest.NewServer(llmServerHandler)
	t.Cleanup(server.Close)

	llm := llmclient.New(llmclient.Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
	router := intent.New(llm, nil, nil, nil)

	wake := &scriptedWake{transcripts: transcripts}
	stt := &scriptedSTT{wake: wake}
	voice := &fakeVoice{}
	st := &memStore{}
	dispatcher := &recordingDispatcher{}

	loop := New(wake, stt, fakeCamera{}, voice, fakeRobotState{}, dispatcher, router, llm, st, nil, NewHistory(4), nil)
	return loop, voice, st, dispatcher
}

func TestRunSpeaksScheduleConfirmationAndPersistsAction(t *testing.T) {
	loop, voice, st, _ := newTestLoop(t, []string{"remind me to drink water at 3pm"}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"should_schedule\":true,\"command\":\"drink water\",\"trigger_time\":\"2099-01-01 15:00:00\",\"completion_mode\":\"one_shot\",\"retry_until\":null,\"confirmation_message\":\"Okay, reminder set.\",\"recurring\":false,\"recurring_interval_seconds\":null,\"recurring_until\":null}"}}]}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := loop.Run(ctx)
	if err != nil && err != context.DeadlineExceeded {
		t.Fatalf("unexpected Run error: %v", err)
	}

	if len(st.inserts) != 1 {
		t.Fatalf("expected one scheduled action inserted, got %d", len(st.inserts))
	}
	found := false
	for _, l := range voice.Lines() {
		if l == "Okay, reminder set." {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected confirmation spoken, got %v", voice.Lines())
	}
}

func TestRunExitsOnExitWord(t *testing.T) {
	loop, _, _, _ := newTestLoop(t, []string{"goodbye"}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := loop.Run(ctx)
	if !errors.Is(err, ErrExitWord) {
		t.Fatalf("expected ErrExitWord, got %v", err)
	}
}
