package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type fakeClient struct {
	resp *llm.Response
	err  error
	name string
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f.resp, f.err
}
func (f *fakeClient) Name() string { return f.name }

func newCatalogue() *Catalogue {
	cat := NewCatalogue()
	cat.Register(Capability{Name: "web", Description: "web browsing", Instructions: "Use web tools carefully."})
	cat.Register(Capability{Name: "code", Description: "coding help", Instructions: "Write idiomatic code."})
	return cat
}

func TestRouterSkipsBelowStride(t *testing.T) {
	cat := newCatalogue()
	client := &fakeClient{name: "fake", err: errors.New("router must not be called")}
	r := NewRouter(cat, Config{RouterStride: 3, DefaultTTL: 5}, client, "router-model")

	set, routed, err := r.Route(context.Background(), StepInput{
		Current:          models.CapabilitySet{"web": 2},
		TurnsSinceRouted: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if routed {
		t.Fatal("router should not have been consulted below router_stride")
	}
	if set["web"] != 1 {
		t.Fatalf("expected decayed ttl 1, got %d", set["web"])
	}
}

func TestRouterDecaysToZeroAndRemoves(t *testing.T) {
	set := models.CapabilitySet{"web": 1}
	decayed := set.Decrement()
	if _, ok := decayed["web"]; ok {
		t.Fatalf("capability with ttl=1 should be removed after decrement, got %v", decayed)
	}
}

func TestRouterAppliesKeepAddDrop(t *testing.T) {
	cat := newCatalogue()
	resp := &llm.Response{Text: `{"keep":["web"],"add":["code"],"drop":[]}`}
	client := &fakeClient{name: "fake", resp: resp}
	r := NewRouter(cat, Config{RouterStride: 1, DefaultTTL: 5}, client, "router-model")

	set, routed, err := r.Route(context.Background(), StepInput{
		Current:          models.CapabilitySet{"web": 2},
		TurnsSinceRouted: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !routed {
		t.Fatal("expected the router LLM tier to have been consulted")
	}
	if set["web"] != 5 {
		t.Fatalf("expected kept capability reset to default ttl, got %d", set["web"])
	}
	if set["code"] != 5 {
		t.Fatalf("expected added capability at default ttl, got %d", set["code"])
	}
}

func TestRouterDropRemovesCapability(t *testing.T) {
	cat := newCatalogue()
	resp := &llm.Response{Text: `{"keep":[],"add":[],"drop":["web"]}`}
	client := &fakeClient{name: "fake", resp: resp}
	r := NewRouter(cat, Config{RouterStride: 1, DefaultTTL: 5}, client, "router-model")

	set, _, err := r.Route(context.Background(), StepInput{
		Current:          models.CapabilitySet{"web": 3},
		TurnsSinceRouted: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := set["web"]; ok {
		t.Fatal("expected dropped capability to be removed")
	}
}

func TestRouterUnknownAddIsIgnored(t *testing.T) {
	cat := newCatalogue()
	resp := &llm.Response{Text: `{"keep":[],"add":["not-in-catalogue"],"drop":[]}`}
	client := &fakeClient{name: "fake", resp: resp}
	r := NewRouter(cat, Config{RouterStride: 1, DefaultTTL: 5}, client, "router-model")

	set, _, err := r.Route(context.Background(), StepInput{Current: models.CapabilitySet{}, TurnsSinceRouted: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected unrecognised capability to be ignored, got %v", set)
	}
}

func TestRouterMalformedResponseKeepsDecayedSet(t *testing.T) {
	cat := newCatalogue()
	resp := &llm.Response{Text: "not json at all"}
	client := &fakeClient{name: "fake", resp: resp}
	r := NewRouter(cat, Config{RouterStride: 1, DefaultTTL: 5}, client, "router-model")

	set, _, err := r.Route(context.Background(), StepInput{Current: models.CapabilitySet{"web": 4}, TurnsSinceRouted: 1})
	if err != nil {
		t.Fatalf("a malformed router reply must not fail the step: %v", err)
	}
	if set["web"] != 3 {
		t.Fatalf("expected decayed-but-unchanged set, got %v", set)
	}
}

func TestRouterUnrecognisedCueForcesRoutingBelowStride(t *testing.T) {
	cat := newCatalogue()
	resp := &llm.Response{Text: `{"keep":[],"add":[],"drop":[]}`}
	client := &fakeClient{name: "fake", resp: resp}
	r := NewRouter(cat, Config{RouterStride: 5, DefaultTTL: 5}, client, "router-model")

	_, routed, err := r.Route(context.Background(), StepInput{
		Current:          models.CapabilitySet{},
		TurnsSinceRouted: 0,
		UnrecognisedCue:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !routed {
		t.Fatal("an unrecognised surface cue should force routing even below router_stride")
	}
}
