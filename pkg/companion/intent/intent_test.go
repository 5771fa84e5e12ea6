package intent

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/companion/pkg/companion/llmclient"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) CompleteJSON(ctx context.Context, messages []llmclient.Message) (*llmclient.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return &llmclient.Response{Content: resp}, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIsExitWordMatchesConfiguredStopWords(t *testing.T) {
	if !IsExitWord("okay, goodbye now") {
		t.Fatal("expected goodbye to match an exit word")
	}
	if IsExitWord("what time is it") {
		t.Fatal("did not expect a false positive exit word match")
	}
}

func TestRouteSchedulingWinsOverTaskAndSearch(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		`{"should_schedule":true,"command":"remind me to drink water","trigger_time":"2026-07-31 15:00:00","completion_mode":"one_shot","retry_until":null,"confirmation_message":"Okay, I will remind you at 3pm.","recurring":false,"recurring_interval_seconds":null,"recurring_until":null}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	result := r.Route(context.Background(), "remind me to drink water at 3pm", nil)
	if result.Kind != KindSchedule {
		t.Fatalf("expected schedule intent, got %s", result.Kind)
	}
	if result.Schedule.Command != "remind me to drink water" {
		t.Fatalf("unexpected command: %s", result.Schedule.Command)
	}
	if !result.Schedule.TriggerTime.Equal(time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected trigger time: %v", result.Schedule.TriggerTime)
	}
	if llm.calls != 1 {
		t.Fatalf("expected scheduling to short-circuit task/search calls, got %d LLM calls", llm.calls)
	}
}

func TestRouteInformationalQuestionIsNotScheduled(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		`{"should_schedule":false}`,
		`{"answer":false,"context":""}`,
		`{"answer":false,"context":""}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	result := r.Route(context.Background(), "when is the Super Bowl", nil)
	if result.Kind != KindPlain {
		t.Fatalf("expected plain intent for informational question, got %s", result.Kind)
	}
}

func TestRouteTaskServiceWinsOverSearchWhenBothAnswerYes(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		`{"should_schedule":false}`,
		`{"answer":true,"context":"list overdue tasks"}`,
		`{"answer":true,"context":"weather today"}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	result := r.Route(context.Background(), "what's due on my todo list", nil)
	if result.Kind != KindTaskService {
		t.Fatalf("expected task_service intent to dominate, got %s", result.Kind)
	}
	if result.ContextText != "list overdue tasks" {
		t.Fatalf("unexpected context text: %s", result.ContextText)
	}
}

func TestRouteSearchIntentWhenTaskKeywordFilterFailsToMatch(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		`{"should_schedule":false}`,
		`{"answer":true,"context":"current weather in Boston"}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	result := r.Route(context.Background(), "what's the weather like in Boston", nil)
	if result.Kind != KindSearch {
		t.Fatalf("expected search intent, got %s", result.Kind)
	}
	if llm.calls != 2 {
		t.Fatalf("expected task keyword pre-filter to skip the task LLM call, got %d calls", llm.calls)
	}
}

func TestClassifyScheduleUsesRegexPreParserOverLLMTriggerTime(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		// The LLM's own trigger_time is deliberately wrong (1am instead of
		// matching "in 10 minutes") to prove the regex result wins.
		`{"should_schedule":true,"command":"stretch","trigger_time":"2026-08-01 01:00:00","completion_mode":"one_shot","retry_until":null,"confirmation_message":"ok","recurring":false,"recurring_interval_seconds":null,"recurring_until":null}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	sched, ok := r.classifySchedule(context.Background(), "remind me to stretch in 10 minutes")
	if !ok {
		t.Fatal("expected a schedule intent")
	}
	want := now.Add(10 * time.Minute)
	if !sched.TriggerTime.Equal(want) {
		t.Fatalf("trigger time = %v, want regex-derived %v", sched.TriggerTime, want)
	}
}

func TestRouteDefaultsToPlainOnMalformedSchedulingResponse(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	llm := &scriptedLLM{responses: []string{
		`not json`,
		`{"answer":false,"context":""}`,
	}}
	r := New(llm, nil, fixedClock(now), nil)

	result := r.Route(context.Background(), "stretch every hour", nil)
	if result.Kind != KindPlain {
		t.Fatalf("expected conservative fallback to plain intent, got %s", result.Kind)
	}
}
