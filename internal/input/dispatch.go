package input

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Action is one parsed action within a source's sequence.
type Action struct {
	Subtype string // e.g. "pointerMove", "keyDown", "scroll", "pause"
	Raw     map[string]any
}

// Source is one action source's full sequence, as decomposed from
// input.performActions params.
type Source struct {
	ID             string
	Type           SourceType
	PointerSubtype PointerSubtype
	Actions        []Action
}

// Dispatcher issues the CDP commands for one non-pause action and
// returns only an error. The inverse recorded in the cancel list is
// computed separately by inverseOf.
type Dispatcher interface {
	DispatchMouse(ctx context.Context, st *SourceState, a Action) error
	DispatchKey(ctx context.Context, st *SourceState, a Action) error
	DispatchTouch(ctx context.Context, st *SourceState, a Action) error
	DispatchWheel(ctx context.Context, st *SourceState, a Action) error
}

// pauseDuration reads an action's "duration" field (milliseconds),
// defaulting to 0 when absent.
func pauseDuration(a Action) time.Duration {
	if v, ok := a.Raw["duration"]; ok {
		if f, ok := v.(float64); ok {
			return time.Duration(f) * time.Millisecond
		}
	}
	return 0
}

// PerformActions decomposes sources into ticks and dispatches each.
// Tick i contains one action from each source whose sequence has
// length > i.
func (s *State) PerformActions(ctx context.Context, sources []Source, d Dispatcher) error {
	maxLen := 0
	for _, src := range sources {
		if len(src.Actions) > maxLen {
			maxLen = len(src.Actions)
		}
	}

	for tick := 0; tick < maxLen; tick++ {
		if err := s.performTick(ctx, tick, sources, d); err != nil {
			return err
		}
	}
	return nil
}

// performTick resolves each job's SourceState and dispatches the CDP
// calls in parallel, but keeps every write to shared State (sources,
// cancelList) on the calling goroutine: sourceFor's map lookups/inserts
// happen before the fan-out, and applyStateUpdate/PrependCancel happen
// after the errCh drain, behind the tick barrier. Only the read-only
// dispatcher calls (d.DispatchMouse etc., which read but never mutate
// the resolved SourceState) run concurrently — a tick with a
// modifier-key-plus-pointer chord or multi-touch would otherwise race
// on the sources map and the cancelList slice.
func (s *State) performTick(ctx context.Context, tick int, sources []Source, d Dispatcher) error {
	var maxPause time.Duration
	type job struct {
		src Source
		act Action
		st  *SourceState
	}
	var jobs []job

	for _, src := range sources {
		if tick >= len(src.Actions) {
			continue
		}
		act := src.Actions[tick]
		if act.Subtype == "pause" {
			if p := pauseDuration(act); p > maxPause {
				maxPause = p
			}
			continue
		}
		st, err := s.sourceFor(src.ID, src.Type, src.PointerSubtype)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{src: src, act: act, st: st})
	}

	start := time.Now()
	errCh := make(chan error, len(jobs))
	for _, j := range jobs {
		j := j
		go func() {
			errCh <- dispatchOne(ctx, j.st, j.src, j.act, d)
		}()
	}
	var firstErr error
	for range jobs {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	for _, j := range jobs {
		if inverse := inverseOf(j.act); inverse != nil {
			raw, _ := json.Marshal(inverse)
			s.PrependCancel(j.src.ID, raw)
		}
		applyStateUpdate(j.st, j.act)
	}

	if remaining := maxPause - time.Since(start); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// dispatchOne issues the CDP call for one action. It only reads st,
// never mutates it — safe to run concurrently across a tick's jobs.
func dispatchOne(ctx context.Context, st *SourceState, src Source, act Action, d Dispatcher) error {
	switch src.Type {
	case SourcePointer:
		if st.PointerSubtype == PointerTouch {
			return d.DispatchTouch(ctx, st, act)
		}
		return d.DispatchMouse(ctx, st, act)
	case SourceKey:
		return d.DispatchKey(ctx, st, act)
	case SourceWheel:
		return d.DispatchWheel(ctx, st, act)
	case SourceNone:
		// No CDP effect; still participates in tick timing.
		return nil
	default:
		return fmt.Errorf("invalid argument: unknown source type %q", src.Type)
	}
}

// inverseOf returns the undo action for act: keyUp for keyDown,
// pointerUp for pointerDown, and nil for every other action. Pointer
// position is not restored by releaseActions.
func inverseOf(act Action) map[string]any {
	switch act.Subtype {
	case "keyDown":
		return map[string]any{"type": "keyUp", "value": act.Raw["value"]}
	case "keyUp":
		return nil
	case "pointerDown":
		return map[string]any{"type": "pointerUp", "button": act.Raw["button"]}
	case "pointerUp":
		return nil
	default:
		return nil
	}
}

// applyStateUpdate updates pressed-button/modifier/position bookkeeping
// for a dispatched action.
func applyStateUpdate(st *SourceState, act Action) {
	switch act.Subtype {
	case "pointerDown":
		if b, ok := act.Raw["button"].(float64); ok {
			st.PressedButtons[int(b)] = true
		}
	case "pointerUp":
		if b, ok := act.Raw["button"].(float64); ok {
			delete(st.PressedButtons, int(b))
		}
	case "pointerMove":
		if x, ok := act.Raw["x"].(float64); ok {
			st.X = x
		}
		if y, ok := act.Raw["y"].(float64); ok {
			st.Y = y
		}
	}
}

// ReleaseActions dispatches the accumulated cancel list as a single
// tick sequence (newest-first, i.e. as accumulated) then clears state.
func (s *State) ReleaseActions(ctx context.Context, d Dispatcher, typeOf func(sourceID string) (SourceType, PointerSubtype)) error {
	for _, c := range s.cancelList {
		var parsed map[string]any
		if err := json.Unmarshal(c.Action, &parsed); err != nil {
			continue
		}
		subtype, _ := parsed["type"].(string)
		srcType, pointerSub := typeOf(c.SourceID)
		st, err := s.sourceFor(c.SourceID, srcType, pointerSub)
		if err != nil {
			return err
		}
		act := Action{Subtype: subtype, Raw: parsed}
		var dispatchErr error
		switch srcType {
		case SourcePointer:
			if pointerSub == PointerTouch {
				dispatchErr = d.DispatchTouch(ctx, st, act)
			} else {
				dispatchErr = d.DispatchMouse(ctx, st, act)
			}
		case SourceKey:
			dispatchErr = d.DispatchKey(ctx, st, act)
		}
		if dispatchErr != nil {
			return dispatchErr
		}
		applyStateUpdate(st, act)
	}
	s.cancelList = nil
	return nil
}
