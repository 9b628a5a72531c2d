// Package confirm defines the user confirmation port. Capabilities that move
// funds or change host state block on a Confirmer until the user answers.
package confirm

import (
	"context"
	"fmt"
	"sync"
)

// Kind names what is being confirmed.
type Kind string

const (
	KindTransaction  Kind = "transaction"
	KindSendToken    Kind = "send_token"
	KindAddMiniApp   Kind = "add_mini_app"
	KindSignManifest Kind = "sign_manifest"
)

// Details describes the action shown to the user.
type Details struct {
	Kind    Kind              `json:"kind"`
	Domain  string            `json:"domain"`
	Title   string            `json:"title"`
	Summary string            `json:"summary,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Confirmer asks the user to approve an action. It returns false, nil when
// the user declines. There is no built-in timeout; cancelling ctx abandons
// the prompt.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, d Details) (bool, error)
}

// Func adapts a function to Confirmer.
type Func func(ctx context.Context, d Details) (bool, error)

func (f Func) RequestConfirmation(ctx context.Context, d Details) (bool, error) {
	return f(ctx, d)
}

// Policy answers every prompt the same way. It backs headless hosts.
type Policy bool

const (
	Approve Policy = true
	Deny    Policy = false
)

func (p Policy) RequestConfirmation(ctx context.Context, d Details) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return bool(p), nil
}

// ParsePolicy maps "approve" / "deny" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "approve":
		return Approve, nil
	case "deny":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("unknown confirmation policy %q", s)
	}
}

// Recorder wraps a Confirmer and keeps every prompt it forwards.
type Recorder struct {
	next Confirmer

	mu      sync.Mutex
	prompts []Details
}

// NewRecorder records prompts before delegating to next.
func NewRecorder(next Confirmer) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) RequestConfirmation(ctx context.Context, d Details) (bool, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, d)
	r.mu.Unlock()
	return r.next.RequestConfirmation(ctx, d)
}

// Prompts returns a copy of the recorded prompts.
func (r *Recorder) Prompts() []Details {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Details, len(r.prompts))
	copy(out, r.prompts)
	return out
}
