package pipeline

import "sync"

// FaultInjector decides whether a named operation should fail
// artificially. Stage operations consult it before doing real work,
// which lets tests and demos script failures without touching storage.
type FaultInjector interface {
	// Fail returns a non-nil error when the named operation should fail.
	Fail(op string) error
}

// ScriptedFaults fails each registered operation a fixed number of times,
// then lets it through. Safe for concurrent use.
type ScriptedFaults struct {
	mu        sync.Mutex
	remaining map[string]int
	errs      map[string]error
}

// NewScriptedFaults creates an empty fault script.
func NewScriptedFaults() *ScriptedFaults {
	return &ScriptedFaults{
		remaining: make(map[string]int),
		errs:      make(map[string]error),
	}
}

// FailN makes the named operation fail with err for its next n calls.
func (s *ScriptedFaults) FailN(op string, n int, err error) *ScriptedFaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining[op] = n
	s.errs[op] = err
	return s
}

// Fail consumes one scripted failure for op, if any remain.
func (s *ScriptedFaults) Fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining[op] <= 0 {
		return nil
	}
	s.remaining[op]--
	return s.errs[op]
}

// Remaining reports how many failures are still scripted for op.
func (s *ScriptedFaults) Remaining(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining[op]
}
