package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jholhewres/companion/pkg/companion/hardware"
	"github.com/jholhewres/companion/pkg/companion/llmclient"
	"github.com/jholhewres/companion/pkg/companion/store"
)

type fakeCamera struct {
	frame string
	err   error
}

func (f *fakeCamera) CaptureFrameJPEGBase64(ctx context.Context) (string, error) {
	return f.frame, f.err
}

type fakeState struct {
	state hardware.State
}

func (f *fakeState) State() hardware.State {
	return f.state
}

func newTestAction() *store.Action {
	return &store.Action{
		ID:             "a1",
		Command:        "wave at me",
		CompletionMode: store.OneShot,
		AttemptCount:   0,
	}
}

func TestJudgeReturnsCompletedVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"vr\":\"done waving\",\"act\":[[4,0,50]],\"completed\":true,\"should_retry\":false,\"retry_delay_seconds\":0,\"completion_reason\":\"waved\"}"}}]}`))
	}))
	defer server.Close()

	llm := llmclient.New(llmclient.Config{BaseURL: server.URL, APIKey: "k", Model: "m"}, nil)
	o := New(llm, &fakeCamera{frame: "ZmFrZQ=="}, &fakeState{}, "system prompt", nil)

	v := o.Judge(context.Background(), newTestAction(), time.Now())
	if !v.Completed {
		t.Fatalf("expected completed verdict, got %+v", v)
	}
	tuples := v.ActionTuples()
	if len(tuples) != 1 || tuples[0].Command != hardware.CmdMoveServo {
		t.Fatalf("expected one move_servo action tuple, got %+v", tuples)
	}
}

func TestJudgeReturnsSurrogateOnCameraFailure(t *testing.T) {
	llm := llmclient.New(llmclient.Config{BaseURL: "http://unused.invalid", APIKey: "k"}, nil)
	o := New(llm, &fakeCamera{err: errors.New("no camera")}, &fakeState{}, "", nil)

	v := o.Judge(context.Background(), newTestAction(), time.Now())
	if !v.ShouldRetry || v.RetryDelaySeconds != 10 {
		t.Fatalf("expected camera-failure surrogate verdict, got %+v", v)
	}
}

func TestJudgeReturnsSurrogateOnLLMFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	llm := llmclient.New(llmclient.Config{BaseURL: server.URL, APIKey: "k"}, nil)
	o := New(llm, &fakeCamera{frame: "ZmFrZQ=="}, &fakeState{}, "", nil)

	v := o.Judge(context.Background(), newTestAction(), time.Now())
	if !v.ShouldRetry || v.RetryDelaySeconds != 60 {
		t.Fatalf("expected oracle-failure surrogate verdict, got %+v", v)
	}
}

func TestJudgeReturnsSurrogateOnMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"not json"}}]}`))
	}))
	defer server.Close()

	llm := llmclient.New(llmclient.Config{BaseURL: server.URL, APIKey: "k"}, nil)
	o := New(llm, &fakeCamera{frame: "ZmFrZQ=="}, &fakeState{}, "", nil)

	v := o.Judge(context.Background(), newTestAction(), time.Now())
	if !v.ShouldRetry || v.RetryDelaySeconds != 60 {
		t.Fatalf("expected oracle-failure surrogate verdict on malformed JSON, got %+v", v)
	}
}
