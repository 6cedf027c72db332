package llm

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

type stubClient struct{ name string }

func (s *stubClient) Complete(ctx context.Context, req Request) (*Response, error) {
	return &Response{Text: "ok", Provider: s.name}, nil
}
func (s *stubClient) Name() string { return s.name }

func TestRouterForReturnsConfiguredClientAndModel(t *testing.T) {
	main := &stubClient{name: "anthropic"}
	cheap := &stubClient{name: "openai"}
	r := NewRouter(
		map[models.ModelTier]Client{models.TierMain: main, models.TierCheap: cheap},
		map[models.ModelTier]string{models.TierMain: "claude-main", models.TierCheap: "gpt-cheap"},
	)

	c, name, ok := r.For(models.TierMain)
	if !ok || c != main || name != "claude-main" {
		t.Fatalf("unexpected main tier result: client=%v name=%q ok=%v", c, name, ok)
	}

	c, name, ok = r.For(models.TierCheap)
	if !ok || c != cheap || name != "gpt-cheap" {
		t.Fatalf("unexpected cheap tier result: client=%v name=%q ok=%v", c, name, ok)
	}
}

func TestRouterForUnconfiguredTierReturnsFalse(t *testing.T) {
	r := NewRouter(map[models.ModelTier]Client{models.TierMain: &stubClient{name: "a"}}, nil)
	c, name, ok := r.For(models.TierRouter)
	if ok || c != nil || name != "" {
		t.Fatalf("expected (nil, \"\", false) for an unconfigured tier, got (%v, %q, %v)", c, name, ok)
	}
}
