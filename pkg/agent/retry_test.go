package agent

import (
	"context"
	"testing"

	"autodev/pkg/agent/llm"
	"autodev/pkg/agent/llmerrors"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return llm.CompletionResponse{}, err
		}
	}
	return llm.CompletionResponse{Content: "ok", StopReason: "end_turn"}, nil
}

func (s *scriptedClient) GetModelName() string { return "scripted" }

func TestRetryOnTransient(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip"),
		llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip"),
		nil,
	}}
	client := NewRetryingClient(inner, nil)

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestNoRetryOnAuth(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"),
		nil,
	}}
	client := NewRetryingClient(inner, nil)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = llmerrors.NewError(llmerrors.ErrorTypeUnknown, "persistent")
	}
	inner := &scriptedClient{errs: errs}
	client := NewRetryingClient(inner, nil)

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest(nil))
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	wantCalls := llmerrors.DefaultUnknownRetries + 1
	if inner.calls != wantCalls {
		t.Errorf("calls = %d, want %d", inner.calls, wantCalls)
	}
}
