package mediator

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/input"
)

// cdpDispatcher implements input.Dispatcher over one top-level
// context's CdpTarget session (§4.5).
type cdpDispatcher struct {
	target *CdpTarget
}

func (d *cdpDispatcher) DispatchMouse(ctx context.Context, st *input.SourceState, a input.Action) error {
	cdpType, ok := mouseEventType(a.Subtype)
	if !ok {
		return nil
	}
	params := map[string]any{
		"type": cdpType,
		"x":    floatField(a.Raw, "x", st.X),
		"y":    floatField(a.Raw, "y", st.Y),
	}
	if button, ok := a.Raw["button"]; ok {
		params["button"] = mouseButtonName(button)
	}
	params["buttons"] = pressedButtonsMask(st.PressedButtons)
	if clickCount, ok := a.Raw["clickCount"]; ok {
		params["clickCount"] = clickCount
	}
	_, err := d.target.Session.Send("Input.dispatchMouseEvent", params)
	return err
}

func (d *cdpDispatcher) DispatchKey(ctx context.Context, st *input.SourceState, a input.Action) error {
	cdpType, ok := keyEventType(a.Subtype)
	if !ok {
		return nil
	}
	params := map[string]any{"type": cdpType}
	if v, ok := a.Raw["value"]; ok {
		params["key"] = v
		params["text"] = v
	}
	_, err := d.target.Session.Send("Input.dispatchKeyEvent", params)
	return err
}

func (d *cdpDispatcher) DispatchTouch(ctx context.Context, st *input.SourceState, a input.Action) error {
	cdpType, ok := touchEventType(a.Subtype)
	if !ok {
		return nil
	}
	params := map[string]any{
		"type": cdpType,
		"touchPoints": []map[string]any{
			{"x": floatField(a.Raw, "x", st.X), "y": floatField(a.Raw, "y", st.Y)},
		},
	}
	_, err := d.target.Session.Send("Input.dispatchTouchEvent", params)
	return err
}

func (d *cdpDispatcher) DispatchWheel(ctx context.Context, st *input.SourceState, a input.Action) error {
	if a.Subtype != "scroll" {
		return nil
	}
	params := map[string]any{
		"type": "mouseWheel",
		"x":    floatField(a.Raw, "x", st.X),
		"y":    floatField(a.Raw, "y", st.Y),
	}
	if dx, ok := a.Raw["deltaX"]; ok {
		params["deltaX"] = dx
	}
	if dy, ok := a.Raw["deltaY"]; ok {
		params["deltaY"] = dy
	}
	_, err := d.target.Session.Send("Input.dispatchMouseEvent", params)
	return err
}

func mouseEventType(subtype string) (string, bool) {
	switch subtype {
	case "pointerDown":
		return "mousePressed", true
	case "pointerUp":
		return "mouseReleased", true
	case "pointerMove":
		return "mouseMoved", true
	default:
		return "", false
	}
}

func keyEventType(subtype string) (string, bool) {
	switch subtype {
	case "keyDown":
		return "keyDown", true
	case "keyUp":
		return "keyUp", true
	default:
		return "", false
	}
}

func touchEventType(subtype string) (string, bool) {
	switch subtype {
	case "pointerDown":
		return "touchStart", true
	case "pointerUp":
		return "touchEnd", true
	case "pointerMove":
		return "touchMove", true
	default:
		return "", false
	}
}

func floatField(raw map[string]any, key string, fallback float64) float64 {
	if v, ok := raw[key].(float64); ok {
		return v
	}
	return fallback
}

func mouseButtonName(v any) string {
	n, _ := v.(float64)
	switch int(n) {
	case 1:
		return "middle"
	case 2:
		return "right"
	default:
		return "left"
	}
}

func pressedButtonsMask(buttons map[int]bool) int {
	mask := 0
	for b := range buttons {
		switch b {
		case 0:
			mask |= 1
		case 1:
			mask |= 4
		case 2:
			mask |= 2
		}
	}
	return mask
}

// PerformActions implements input.performActions (§4.5).
func (c *Context) PerformActions(ctx context.Context, contextID string, sources []input.Source) *bidierr.Error {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return bidierr.NoSuchFrame(contextID)
	}
	if !bc.IsTopLevel() {
		return bidierr.InvalidArgument("input.performActions requires a top-level context")
	}
	if awaitErr := c.awaitUnblocked(ctx, bc); awaitErr != nil {
		return awaitErr
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return bidierr.NoSuchFrame(contextID)
	}

	state := c.inputStateFor(contextID)
	if dispatchErr := state.PerformActions(ctx, sources, &cdpDispatcher{target: target}); dispatchErr != nil {
		return bidierr.UnknownError("%s", dispatchErr.Error())
	}
	return nil
}

// ReleaseActions implements input.releaseActions: dispatches the
// cancel list then deletes the InputState entry. The cancel list
// replays against the fixed source types recorded during the
// preceding performActions calls, not a fresh source list — the BiDi
// command itself carries no actions (§4.5).
func (c *Context) ReleaseActions(ctx context.Context, contextID string) *bidierr.Error {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return bidierr.NoSuchFrame(contextID)
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return bidierr.NoSuchFrame(contextID)
	}

	state := c.inputStateFor(contextID)
	if dispatchErr := state.ReleaseActions(ctx, &cdpDispatcher{target: target}, state.TypeOf); dispatchErr != nil {
		return bidierr.UnknownError("%s", dispatchErr.Error())
	}
	c.dropInputState(contextID)
	return nil
}

// parseActions decodes one source's raw action entries into
// input.Action values.
func parseActions(raw []json.RawMessage) ([]input.Action, error) {
	actions := make([]input.Action, 0, len(raw))
	for _, r := range raw {
		var m map[string]any
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, err
		}
		subtype, _ := m["type"].(string)
		actions = append(actions, input.Action{Subtype: subtype, Raw: m})
	}
	return actions, nil
}
