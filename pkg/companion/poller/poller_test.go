package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
)

type scriptedSubAgent struct {
	answers []string
	i       int
}

func (s *scriptedSubAgent) Ask(ctx context.Context, instruction string) (string, error) {
	if s.i >= len(s.answers) {
		return "no tasks due", nil
	}
	a := s.answers[s.i]
	s.i++
	return a, nil
}

type recordingVoice struct {
	spoken []string
}

func (v *recordingVoice) Speak(ctx context.Context, text string) error {
	v.spoken = append(v.spoken, text)
	return nil
}

type countingDispatcher struct {
	calls int32
}

func (d *countingDispatcher) Dispatch(actions []hardware.ActionTuple) {
	atomic.AddInt32(&d.calls, 1)
}

func TestTickSkipsEmptySentinelAnswers(t *testing.T) {
	sa := &scriptedSubAgent{answers: []string{"No tasks due"}}
	voice := &recordingVoice{}
	p := New(sa, voice, nil, time.Hour, nil)

	p.tick(context.Background())

	if len(voice.spoken) != 0 {
		t.Fatalf("expected no reminder spoken for empty sentinel, got %v", voice.spoken)
	}
}

func TestTickSpeaksNewReminderOnce(t *testing.T) {
	sa := &scriptedSubAgent{answers: []string{"Finish the quarterly report", "Finish the quarterly report"}}
	voice := &recordingVoice{}
	dispatcher := &countingDispatcher{}
	p := New(sa, voice, dispatcher, time.Hour, nil)

	p.tick(context.Background())
	p.tick(context.Background())

	if len(voice.spoken) != 1 {
		t.Fatalf("expected exactly one spoken reminder for a repeated answer, got %d: %v", len(voice.spoken), voice.spoken)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("expected exactly one attention gesture, got %d", dispatcher.calls)
	}
}

func TestClearRemindedAllowsReDelivery(t *testing.T) {
	sa := &scriptedSubAgent{answers: []string{"Finish the quarterly report", "Finish the quarterly report"}}
	voice := &recordingVoice{}
	p := New(sa, voice, nil, time.Hour, nil)

	p.tick(context.Background())
	p.ClearReminded()
	p.tick(context.Background())

	if len(voice.spoken) != 2 {
		t.Fatalf("expected reminder to be spoken again after clearing the reminded-set, got %d", len(voice.spoken))
	}
}
