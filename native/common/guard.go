package common

import "errors"

// ErrFlowPaused is returned when a guarded flow has been halted by
// configuration or governance intervention.
var ErrFlowPaused = errors.New("flow paused")

// PauseView reports whether a named flow is currently halted.
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard rejects the call when the supplied flow is paused. A nil view or empty
// flow name always passes.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrFlowPaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of halted flows, suitable
// for configuration-driven wiring.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(flow string) bool {
	if s == nil {
		return false
	}
	return s[flow]
}
