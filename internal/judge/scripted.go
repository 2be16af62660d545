package judge

import (
	"context"
	"sync"
	"time"
)

// Call records one CheckRule invocation made against a ScriptedJudge.
type Call struct {
	Text        string
	Check       string
	ContextJSON string
}

// ScriptedJudge is a deterministic RuleJudge for tests. Verdicts are keyed
// by check instruction; unknown checks return a non-violated verdict.
type ScriptedJudge struct {
	mu       sync.Mutex
	verdicts map[string]Verdict
	errs     map[string]error
	calls    []Call

	// Delay simulates judge latency before every answer.
	Delay time.Duration
}

// NewScriptedJudge creates an empty scripted judge.
func NewScriptedJudge() *ScriptedJudge {
	return &ScriptedJudge{
		verdicts: make(map[string]Verdict),
		errs:     make(map[string]error),
	}
}

// Script sets the verdict returned for a check instruction.
func (s *ScriptedJudge) Script(check string, v Verdict) *ScriptedJudge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[check] = v
	return s
}

// Fail makes a check instruction return an error.
func (s *ScriptedJudge) Fail(check string, err error) *ScriptedJudge {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[check] = err
	return s
}

// CheckRule implements RuleJudge.
func (s *ScriptedJudge) CheckRule(ctx context.Context, text, check, contextJSON string) (Verdict, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Text: text, Check: check, ContextJSON: contextJSON})

	if err, ok := s.errs[check]; ok {
		return Verdict{}, err
	}
	return s.verdicts[check], nil
}

// Calls returns a copy of all recorded calls.
func (s *ScriptedJudge) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
