// Package input implements the Input Dispatcher: decomposing
// input.performActions into ticks, dispatching each tick's actions to
// CDP, and the per-source/per-context undo bookkeeping for
// input.releaseActions.
package input

import (
	"encoding/json"
	"fmt"
)

// SourceType is an input source's fixed subtype: a pointer subtype is
// fixed on first use of a source id.
type SourceType string

const (
	SourcePointer SourceType = "pointer"
	SourceKey     SourceType = "key"
	SourceWheel   SourceType = "wheel"
	SourceNone    SourceType = "none"
)

// PointerSubtype is the pointerType parameter for a pointer source.
type PointerSubtype string

const (
	PointerMouse PointerSubtype = "mouse"
	PointerPen   PointerSubtype = "pen"
	PointerTouch PointerSubtype = "touch"
)

// SourceState tracks one input source's accumulated state across ticks.
type SourceState struct {
	Type           SourceType
	PointerSubtype PointerSubtype // only meaningful when Type == SourcePointer

	PressedButtons map[int]bool
	Modifiers      int64 // CDP modifier bitmask (Alt=1, Ctrl=2, Meta=4, Shift=8)
	X, Y           float64
}

func newSourceState(t SourceType) *SourceState {
	return &SourceState{Type: t, PressedButtons: make(map[int]bool)}
}

// CancelAction is one recorded inverse action, prepended to the
// cancel list as actions are dispatched.
type CancelAction struct {
	SourceID string
	Action   json.RawMessage
}

// State is the InputState for one top-level browsing context.
type State struct {
	sources    map[string]*SourceState
	cancelList []CancelAction
}

func NewState() *State {
	return &State{sources: make(map[string]*SourceState)}
}

// sourceFor returns (creating if absent) the state for sourceID, after
// validating the subtype doesn't change across uses.
func (s *State) sourceFor(sourceID string, t SourceType, pointerSubtype PointerSubtype) (*SourceState, error) {
	existing, ok := s.sources[sourceID]
	if !ok {
		st := newSourceState(t)
		st.PointerSubtype = pointerSubtype
		s.sources[sourceID] = st
		return st, nil
	}
	if existing.Type != t {
		return nil, fmt.Errorf("invalid argument: source %q reused with a different type", sourceID)
	}
	if t == SourcePointer && existing.PointerSubtype != pointerSubtype {
		return nil, fmt.Errorf("invalid argument: pointer source %q reused with a different subtype", sourceID)
	}
	return existing, nil
}

// PrependCancel pushes action to the front of the cancel list, so
// ReleaseActions dispatches it newest-first.
func (s *State) PrependCancel(sourceID string, action json.RawMessage) {
	s.cancelList = append([]CancelAction{{SourceID: sourceID, Action: action}}, s.cancelList...)
}

// CancelList returns the accumulated inverse actions, newest-first.
func (s *State) CancelList() []CancelAction {
	return s.cancelList
}

// TypeOf returns the fixed type recorded for sourceID by a prior
// performActions call, for replaying the cancel list in ReleaseActions
// without requiring the caller to resend the original source list.
func (s *State) TypeOf(sourceID string) (SourceType, PointerSubtype) {
	st, ok := s.sources[sourceID]
	if !ok {
		return SourceNone, ""
	}
	return st.Type, st.PointerSubtype
}
