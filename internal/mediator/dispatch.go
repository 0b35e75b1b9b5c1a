package mediator

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/input"
	"github.com/bidicdp/mediator/internal/wire"
)

// Dispatch implements command.Dispatcher, routing a parsed BiDi command
// to the appropriate domain handler (§4.6).
func (c *Context) Dispatch(ctx context.Context, cmd *wire.Command) (any, *bidierr.Error) {
	switch cmd.Method {
	case "session.new":
		var params map[string]any
		_ = json.Unmarshal(cmd.Params, &params)
		return c.NewSession(params["capabilities"])
	case "session.status":
		return c.Status(), nil
	case "session.end":
		if err := c.EndSession(); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	case "session.subscribe":
		var p wire.SessionSubscribeParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		c.Events.Subscribe(p.Events, p.Contexts, cmd.Channel)
		return map[string]any{}, nil
	case "session.unsubscribe":
		var p wire.SessionSubscribeParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		c.Events.Unsubscribe(p.Events, p.Contexts, cmd.Channel)
		return map[string]any{}, nil

	case "browsingContext.create":
		var p wire.BrowsingContextCreateParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		id, cerr := c.CreateContext(ctx, p.Type, p.ReferenceContext)
		if cerr != nil {
			return nil, cerr
		}
		return map[string]any{"context": id}, nil
	case "browsingContext.navigate":
		var p wire.BrowsingContextNavigateParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		return c.Navigate(ctx, p.Context, p.URL, p.Wait)
	case "browsingContext.close":
		var p wire.BrowsingContextCloseParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		if cerr := c.Close(ctx, p.Context); cerr != nil {
			return nil, cerr
		}
		return map[string]any{}, nil
	case "browsingContext.getTree":
		var p wire.BrowsingContextGetTreeParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		root := ""
		if p.Root != nil {
			root = *p.Root
		}
		tree, gerr := c.GetTree(root, p.MaxDepth)
		if gerr != nil {
			return nil, gerr
		}
		return map[string]any{"contexts": tree}, nil
	case "browsingContext.captureScreenshot":
		var p wire.BrowsingContextCaptureScreenshotParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		data, serr := c.CaptureScreenshot(ctx, p.Context)
		if serr != nil {
			return nil, serr
		}
		return map[string]any{"data": data}, nil
	case "browsingContext.print":
		var p wire.BrowsingContextPrintParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		data, perr2 := c.Print(ctx, p.Context)
		if perr2 != nil {
			return nil, perr2
		}
		return map[string]any{"data": data}, nil

	case "script.evaluate":
		var p wire.ScriptEvaluateParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		return c.ScriptEvaluate(ctx, p.Target.Context, p.Target.Sandbox, p.Target.Realm, p.Expression, p.AwaitPromise, string(p.ResultOwnership), p.SerializationOptions)
	case "script.callFunction":
		var p wire.ScriptCallFunctionParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		thisHandle, argHandles, argValues := decodeCallFunctionArgs(&p)
		return c.CallFunction(ctx, p.Target.Context, p.Target.Sandbox, p.Target.Realm, p.FunctionDeclaration, thisHandle, argHandles, argValues, p.AwaitPromise, string(p.ResultOwnership), p.SerializationOptions)
	case "script.disown":
		var p wire.ScriptDisownParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		if derr := c.Disown(p.Target.Context, p.Target.Sandbox, p.Target.Realm, p.Handles); derr != nil {
			return nil, derr
		}
		return map[string]any{}, nil
	case "script.addPreloadScript":
		var p struct {
			FunctionDeclaration string          `json:"functionDeclaration"`
			Sandbox             string          `json:"sandbox,omitempty"`
			Arguments           json.RawMessage `json:"arguments,omitempty"`
			Contexts            []string        `json:"contexts,omitempty"`
		}
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		hasArgs := len(p.Arguments) > 0 && string(p.Arguments) != "[]" && string(p.Arguments) != "null"
		contextFilter := ""
		if len(p.Contexts) > 0 {
			contextFilter = p.Contexts[0]
		}
		id, aerr := c.AddPreloadScript(contextFilter, p.FunctionDeclaration, p.Sandbox, hasArgs)
		if aerr != nil {
			return nil, aerr
		}
		return map[string]any{"script": id}, nil
	case "script.removePreloadScript":
		var p struct {
			Script string `json:"script"`
		}
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		if rerr := c.RemovePreloadScript(p.Script); rerr != nil {
			return nil, rerr
		}
		return map[string]any{}, nil

	case "input.performActions":
		var p wire.InputPerformActionsParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		sources, serr := decodeActionSources(p.Actions)
		if serr != nil {
			return nil, serr
		}
		if perr := c.PerformActions(ctx, p.Context, sources); perr != nil {
			return nil, perr
		}
		return map[string]any{}, nil
	case "input.releaseActions":
		var p wire.InputReleaseActionsParams
		if perr := wire.UnmarshalParams(cmd, &p); perr != nil {
			return nil, perr
		}
		if rerr := c.ReleaseActions(ctx, p.Context); rerr != nil {
			return nil, rerr
		}
		return map[string]any{}, nil
	}

	return nil, bidierr.UnknownCommand(cmd.Method)
}

func decodeCallFunctionArgs(p *wire.ScriptCallFunctionParams) (string, []string, []json.RawMessage) {
	var thisHandle string
	if p.This != nil {
		thisHandle = p.This.Handle
	}
	var argHandles []string
	var argValues []json.RawMessage
	for _, a := range p.Arguments {
		if a.Handle != "" {
			argHandles = append(argHandles, a.Handle)
		} else {
			argValues = append(argValues, a.Value)
		}
	}
	return thisHandle, argHandles, argValues
}

func decodeActionSources(raw []wire.ActionSource) ([]input.Source, *bidierr.Error) {
	sources := make([]input.Source, 0, len(raw))
	for _, r := range raw {
		actions, err := parseActions(r.Actions)
		if err != nil {
			return nil, bidierr.InvalidArgument("malformed action for source %s: %v", r.ID, err)
		}
		srcType := input.SourceType(r.Type)
		var pointerSubtype input.PointerSubtype
		if srcType == input.SourcePointer {
			pointerSubtype = input.PointerMouse
			if len(r.Parameters) > 0 {
				var params struct {
					PointerType string `json:"pointerType"`
				}
				if json.Unmarshal(r.Parameters, &params) == nil && params.PointerType != "" {
					pointerSubtype = input.PointerSubtype(params.PointerType)
				}
			}
		}
		sources = append(sources, input.Source{
			ID:             r.ID,
			Type:           srcType,
			PointerSubtype: pointerSubtype,
			Actions:        actions,
		})
	}
	return sources, nil
}
