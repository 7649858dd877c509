package fairiagent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Replay rebuilds the derived fields of a session (outputs, attempts,
// feedback, status) from its stage order and history alone. Any history
// the controller could not have produced is reported as an error.
func Replay(order []string, history []Transition) (*WorkflowState, error) {
	s := &WorkflowState{
		StageOrder:      slices.Clone(order),
		StageOutputs:    make(map[string]json.RawMessage),
		StageAttempts:   make(map[string]int),
		PendingFeedback: make(map[string]string),
		History:         make([]Transition, 0, len(history)),
		Status:          SessionStatusRunning,
	}
	s.Status = statusFor(s)

	for _, t := range history {
		if err := s.Apply(t); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Apply appends one transition and updates the derived fields. A transition
// the controller could not have produced next is rejected and s is left
// unchanged.
func (s *WorkflowState) Apply(t Transition) error {
	if t.Seq != len(s.History)+1 {
		return fmt.Errorf("transition %d has sequence %d", len(s.History)+1, t.Seq)
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("transition %d follows terminal status %s", t.Seq, s.Status)
	}

	next, ok := s.NextStage()
	if !ok {
		return fmt.Errorf("transition %d after every stage was accepted", t.Seq)
	}
	if t.Stage != next {
		if slices.Contains(s.StageOrder, t.Stage) {
			return fmt.Errorf("transition %d for stage %s, expected %s", t.Seq, t.Stage, next)
		}
		return fmt.Errorf("transition %d for unknown stage %s", t.Seq, t.Stage)
	}
	if want := s.StageAttempts[t.Stage] + 1; t.Attempt != want {
		return fmt.Errorf("transition %d for stage %s has attempt %d, expected %d", t.Seq, t.Stage, t.Attempt, want)
	}

	switch t.Decision {
	case DecisionAccept:
		if len(t.Output) == 0 {
			return fmt.Errorf("transition %d accepts stage %s without output", t.Seq, t.Stage)
		}
		s.StageOutputs[t.Stage] = slices.Clone(t.Output)
		delete(s.PendingFeedback, t.Stage)
		s.Status = statusFor(s)
	case DecisionRetry:
		s.StageAttempts[t.Stage]++
		s.PendingFeedback[t.Stage] = t.Reason
	case DecisionEscalate:
		s.Status = SessionStatusFailed
	default:
		return fmt.Errorf("transition %d has unknown decision %q", t.Seq, t.Decision)
	}

	t.Output = slices.Clone(t.Output)
	s.History = append(s.History, t)
	return nil
}

func statusFor(s *WorkflowState) SessionStatus {
	if len(s.StageOrder) > 0 {
		if _, pending := s.NextStage(); !pending {
			return SessionStatusCompleted
		}
	}
	return SessionStatusRunning
}

// ValidateSnapshot replays state's history and checks the result against the
// snapshot's own derived fields
func ValidateSnapshot(state *WorkflowState) error {
	if state == nil {
		return &CheckpointCorruptionError{Reason: "snapshot has no state"}
	}

	replayed, err := Replay(state.StageOrder, state.History)
	if err != nil {
		return &CheckpointCorruptionError{SessionID: state.SessionID, Reason: "history replay failed", Err: err}
	}

	corrupt := func(format string, args ...any) error {
		return &CheckpointCorruptionError{SessionID: state.SessionID, Reason: fmt.Sprintf(format, args...)}
	}

	if replayed.Status != state.Status {
		return corrupt("status %s does not match replayed status %s", state.Status, replayed.Status)
	}
	if !sameOutputs(replayed.StageOutputs, state.StageOutputs) {
		return corrupt("stage outputs do not match history")
	}
	if !maps.Equal(nonZero(replayed.StageAttempts), nonZero(state.StageAttempts)) {
		return corrupt("stage attempts %v do not match replayed %v", state.StageAttempts, replayed.StageAttempts)
	}
	if !maps.Equal(replayed.PendingFeedback, nonNil(state.PendingFeedback)) {
		return corrupt("pending feedback does not match history")
	}
	return nil
}

func sameOutputs(a, b map[string]json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		if !bytes.Equal(compact(va), compact(vb)) {
			return false
		}
	}
	return true
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func nonZero(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
