// Package capability implements the Capability Router (C4): per-turn,
// TTL-decayed selection of optional instruction bundles ("skills") that get
// appended to the system prompt and may widen the exposed tool schemas.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// EligibilityContext carries the environment facts a Capability's Eligible
// predicate may consult (binary presence, env vars, config truthiness) —
// the same shape the reference skill-gating system checks, minus any
// filesystem discovery (§9 design note: the catalogue here is registered,
// not discovered).
type EligibilityContext struct {
	EnvVars map[string]bool
	Config  map[string]any
}

// Capability is one registered, optional instruction bundle.
type Capability struct {
	Name         string
	Description  string
	Instructions string
	ExtraTools   []string
	Eligible     func(EligibilityContext) bool
}

// Catalogue is the registered set of capabilities known to the router.
type Catalogue struct {
	entries map[string]Capability
}

// NewCatalogue builds an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[string]Capability)}
}

// Register adds or replaces a capability. Safe to call at runtime from an
// admin interface, per §9's redesign of the reference's filesystem discovery.
func (c *Catalogue) Register(cap Capability) {
	c.entries[cap.Name] = cap
}

// Eligible returns the capabilities whose Eligible predicate passes (or has
// none set, meaning always eligible).
func (c *Catalogue) Eligible(ectx EligibilityContext) []Capability {
	var out []Capability
	for _, cap := range c.entries {
		if cap.Eligible == nil || cap.Eligible(ectx) {
			out = append(out, cap)
		}
	}
	return out
}

func (c *Catalogue) Get(name string) (Capability, bool) {
	cap, ok := c.entries[name]
	return cap, ok
}

// Config holds the router's tunables (§4.4, §6.6).
type Config struct {
	RouterStride int
	DefaultTTL   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{RouterStride: 1, DefaultTTL: 5}
}

// routerDecision is the {keep, add, drop} shape the router LLM tier returns.
type routerDecision struct {
	Keep []string `json:"keep"`
	Add  []string `json:"add"`
	Drop []string `json:"drop"`
}

// Router implements §4.4's per-step algorithm.
type Router struct {
	catalogue *Catalogue
	cfg       Config
	client    llm.Client
	model     string
}

// NewRouter builds a Router that uses client/model for the "router" LLM tier.
func NewRouter(catalogue *Catalogue, cfg Config, client llm.Client, model string) *Router {
	return &Router{catalogue: catalogue, cfg: cfg, client: client, model: model}
}

// Catalogue exposes the registered capability catalogue so the Agent Runtime
// can resolve an active capability set's names back into instruction blocks
// and extra tool names (§4.4's step "(a)"/"(b)" consumption).
func (r *Router) Catalogue() *Catalogue { return r.catalogue }

// StepInput is what the Route call needs to know about the current step.
type StepInput struct {
	Current          models.CapabilitySet
	TurnsSinceRouted int
	LatestUserText   string
	RecentUserVisible []string // last K user-visible messages, oldest first
	EligibilityCtx   EligibilityContext
	UnrecognisedCue  bool
}

// Route applies §4.4 steps 1-6 and returns the new capability set plus
// whether the router LLM tier was actually consulted this step.
func (r *Router) Route(ctx context.Context, in StepInput) (models.CapabilitySet, bool, error) {
	decayed := in.Current.Decrement()

	if in.TurnsSinceRouted < r.cfg.RouterStride && !in.UnrecognisedCue {
		return decayed, false, nil
	}

	eligible := r.catalogue.Eligible(in.EligibilityCtx)
	prompt := buildRouterPrompt(eligible, in.RecentUserVisible, decayed)

	req := llm.Request{
		Tier:   models.TierRouter,
		Model:  r.model,
		System: "You select which optional capability bundles should be active for this conversation turn. Respond with JSON {\"keep\":[],\"add\":[],\"drop\":[]} only.",
		Messages: []llm.ChatMessage{
			{Role: models.RoleUser, Content: prompt},
		},
	}
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return decayed, true, fmt.Errorf("capability: router call failed: %w", err)
	}

	var decision routerDecision
	if jerr := json.Unmarshal([]byte(extractJSON(resp.Text)), &decision); jerr != nil {
		// A malformed router response is not fatal to the step — keep the
		// decayed set unchanged rather than failing the job over routing.
		return decayed, true, nil
	}

	next := make(models.CapabilitySet, len(decayed))
	for name, ttl := range decayed {
		next[name] = ttl
	}
	for _, name := range decision.Drop {
		delete(next, name)
	}
	for _, name := range decision.Keep {
		if _, ok := r.catalogue.Get(name); ok {
			next[name] = r.cfg.DefaultTTL
		}
	}
	for _, name := range decision.Add {
		if _, ok := r.catalogue.Get(name); ok {
			next[name] = r.cfg.DefaultTTL
		}
	}
	return next, true, nil
}

func buildRouterPrompt(eligible []Capability, recent []string, current models.CapabilitySet) string {
	var b strings.Builder
	b.WriteString("Capability catalogue:\n")
	for _, c := range eligible {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("\nCurrently active:\n")
	for name, ttl := range current {
		fmt.Fprintf(&b, "- %s (ttl=%d)\n", name, ttl)
	}
	b.WriteString("\nRecent user-visible messages:\n")
	for _, m := range recent {
		b.WriteString("> ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON trims a response down to its first {...} span, tolerating a
// router model that wraps JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
