// Package loopdetect implements the Loop/Progress Detector (C6): a rolling
// window over recent tool calls that signals repeat, oscillation, and
// no-progress patterns and asks the Agent Runtime to inject a corrective
// nudge. The detector never terminates a job — it only nudges (§4.6, §9).
package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config holds the §4.6/§6.6 tunables.
type Config struct {
	WindowSize      int
	RepeatThreshold int
	StallThreshold  int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{WindowSize: 8, RepeatThreshold: 3, StallThreshold: 4}
}

type callRecord struct {
	signature    string
	textChanged  bool
}

// Detector tracks one conversation's recent tool-call history.
type Detector struct {
	cfg     Config
	window  []callRecord
	stalled int
}

// New builds a Detector with the given config.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Observe records one step's tool calls and assistant text, returning a
// non-empty nudge message if a signal fired.
func (d *Detector) Observe(assistantText string, textTriviallyChanged bool, calls []models.ToolCall) string {
	for _, c := range calls {
		d.window = append(d.window, callRecord{signature: canonicalSignature(c)})
	}
	if len(d.window) > d.cfg.WindowSize {
		d.window = d.window[len(d.window)-d.cfg.WindowSize:]
	}

	if assistantText == "" || textTriviallyChanged {
		d.stalled++
	} else {
		d.stalled = 0
	}

	if nudge := d.checkRepeat(); nudge != "" {
		return nudge
	}
	if nudge := d.checkOscillation(); nudge != "" {
		return nudge
	}
	if d.stalled >= d.cfg.StallThreshold {
		d.stalled = 0
		return "The assistant text has not meaningfully changed across several steps with no clear progress. Change approach, ask the user a clarifying question, or finish with your best answer."
	}
	return ""
}

func (d *Detector) checkRepeat() string {
	counts := make(map[string]int, len(d.window))
	for _, r := range d.window {
		counts[r.signature]++
		if counts[r.signature] >= d.cfg.RepeatThreshold {
			return "The same tool call with the same arguments has been repeated several times without new information. Try a different approach or ask the user for clarification."
		}
	}
	return ""
}

func (d *Detector) checkOscillation() string {
	n := len(d.window)
	if n < 4 {
		return ""
	}
	a, b := d.window[n-1].signature, d.window[n-2].signature
	if a == b {
		return ""
	}
	cycles := 0
	for i := n - 1; i >= 3; i -= 2 {
		if d.window[i].signature == a && d.window[i-1].signature == b {
			cycles++
		} else {
			break
		}
	}
	if cycles >= 2 {
		return "The assistant is alternating between two tool calls without making progress. Break the cycle: pick one path, or ask the user for direction."
	}
	return ""
}

// canonicalSignature builds a stable (name, canonicalised-arguments) key by
// round-tripping the arguments through an ordered-map JSON unmarshal/marshal
// so that key order in the original payload doesn't defeat repeat detection.
func canonicalSignature(tc models.ToolCall) string {
	var v any
	if len(tc.Input) > 0 {
		_ = json.Unmarshal(tc.Input, &v)
	}
	canon, _ := json.Marshal(v)
	sum := sha256.Sum256(append([]byte(tc.Name+"|"), canon...))
	return tc.Name + ":" + hex.EncodeToString(sum[:8])
}
