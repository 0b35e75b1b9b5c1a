package mediator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/storage"
)

type executionContextCreatedEvent struct {
	Context struct {
		ID     int64  `json:"id"`
		Origin string `json:"origin"`
		Name   string `json:"name"`
		AuxData struct {
			FrameID   string `json:"frameId"`
			IsDefault bool   `json:"isDefault"`
			Type      string `json:"type"`
		} `json:"auxData"`
	} `json:"context"`
}

type executionContextDestroyedEvent struct {
	ExecutionContextID int64 `json:"executionContextId"`
}

// handleExecutionContextCreated creates a Realm for a newly reported
// CDP execution context (§3 lifecycle: "Navigation -> ... create a
// fresh principal realm").
func (c *Context) handleExecutionContextCreated(t *CdpTarget, raw json.RawMessage) {
	var ev executionContextCreatedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed executionContextCreated event")
		return
	}
	frameID := ev.Context.AuxData.FrameID
	if frameID == "" {
		frameID = t.ContextID
	}
	if c.Contexts.FindContext(frameID) == nil {
		// A worker or a frame we haven't indexed yet; nothing to attach to.
		return
	}

	realmType := classifyRealmType(ev.Context.AuxData.Type, ev.Context.Name)
	sandbox := ""
	if realmType == storage.RealmWindow && ev.Context.Name != "" && !ev.Context.AuxData.IsDefault {
		sandbox = ev.Context.Name
	}

	realmID := fmt.Sprintf("realm-%s-%d", frameID, ev.Context.ID)
	r := &storage.Realm{
		ID:                 realmID,
		BrowsingContextID:  frameID,
		ExecutionContextID: ev.Context.ID,
		SessionID:          t.Session.SessionID,
		Origin:             ev.Context.Origin,
		Type:               realmType,
		Sandbox:            sandbox,
	}
	c.Realms.AddRealm(r)

	if bc := c.Contexts.FindContext(frameID); bc != nil {
		bc.SetRealmForSandbox(sandbox, realmID)
	}
}

func classifyRealmType(auxType, name string) storage.RealmType {
	switch auxType {
	case "worker":
		return storage.RealmDedicatedWorker
	case "shared-worker":
		return storage.RealmSharedWorker
	case "service-worker":
		return storage.RealmServiceWorker
	default:
		return storage.RealmWindow
	}
}

func (c *Context) handleExecutionContextDestroyed(raw json.RawMessage) {
	var ev executionContextDestroyedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed executionContextDestroyed event")
		return
	}
	for _, r := range c.Realms.FindRealms(storage.RealmFilter{}) {
		if r.ExecutionContextID == ev.ExecutionContextID {
			c.Realms.DeleteRealm(r.ID)
			return
		}
	}
}

func (c *Context) handleExecutionContextsCleared(t *CdpTarget) {
	c.Realms.DeleteRealmsForContext(t.ContextID)
	if bc := c.Contexts.FindContext(t.ContextID); bc != nil {
		bc.ClearRealms()
	}
}

// resolveRealm finds the realm for a script.* target: either an
// explicit realm id, or the principal/sandbox realm for a context.
func (c *Context) resolveRealm(contextID, sandbox, explicitRealm string) (*storage.Realm, *bidierr.Error) {
	if explicitRealm != "" {
		r, ok := c.Realms.GetRealmByID(explicitRealm)
		if !ok {
			return nil, bidierr.NoSuchRealm(explicitRealm)
		}
		return r, nil
	}
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return nil, bidierr.NoSuchFrame(contextID)
	}
	realmID, ok := bc.RealmForSandbox(sandbox)
	if !ok {
		return nil, bidierr.NoSuchRealm(fmt.Sprintf("no realm for context %s sandbox %q", contextID, sandbox))
	}
	r, ok := c.Realms.GetRealmByID(realmID)
	if !ok {
		return nil, bidierr.NoSuchRealm(realmID)
	}
	return r, nil
}

func (c *Context) sessionFor(r *storage.Realm) (*cdpSessionLookup, *bidierr.Error) {
	bc, err := c.Contexts.GetContext(r.BrowsingContextID)
	if err != nil {
		return nil, bidierr.NoSuchFrame(r.BrowsingContextID)
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return nil, bidierr.NoSuchFrame(r.BrowsingContextID)
	}
	return &cdpSessionLookup{target: target, bc: bc}, nil
}

type cdpSessionLookup struct {
	target *CdpTarget
	bc     *storage.Context
}

type cdpRemoteObject struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
	DeepSerializedValue json.RawMessage `json:"deepSerializedValue,omitempty"`
}

type callFunctionResult struct {
	Result             cdpRemoteObject `json:"result"`
	ExceptionDetails   *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

// mergeSerializationOptions forwards the client's script.evaluate/
// callFunction serializationOptions into CDP's serializationOptions
// (§4.4: "forwarded into CDP's serializationOptions"), defaulting
// "serialization" to "deep" when the client didn't set it rather than
// discarding fields like maxObjectDepth/maxDomDepth/includeShadowTree.
func mergeSerializationOptions(raw json.RawMessage) map[string]any {
	opts := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			opts = map[string]any{}
		}
	}
	if _, ok := opts["serialization"]; !ok {
		opts["serialization"] = "deep"
	}
	return opts
}

// ScriptEvaluate implements script.evaluate (§4.4).
func (c *Context) ScriptEvaluate(ctx context.Context, contextID, sandbox, realmID, expression string, awaitPromise bool, ownership string, serializationOptions json.RawMessage) (map[string]any, *bidierr.Error) {
	r, rerr := c.resolveRealm(contextID, sandbox, realmID)
	if rerr != nil {
		return nil, rerr
	}
	lookup, serr := c.sessionFor(r)
	if serr != nil {
		return nil, serr
	}
	if awaitErr := c.awaitUnblocked(ctx, lookup.bc); awaitErr != nil {
		return nil, awaitErr
	}

	params := map[string]any{
		"expression":           expression,
		"contextId":            r.ExecutionContextID,
		"awaitPromise":         awaitPromise,
		"serializationOptions": mergeSerializationOptions(serializationOptions),
		"returnByValue":        false,
	}
	raw, err := lookup.target.Session.Send("Runtime.evaluate", params)
	if err != nil {
		return nil, bidierr.UnknownError("%s", err.Error())
	}
	return c.finishEvaluation(raw, r, lookup, ownership)
}

// CallFunction implements script.callFunction. Per Open Question (a),
// a `this` handle from a different realm is passed through to CDP
// rather than rejected up front.
func (c *Context) CallFunction(ctx context.Context, contextID, sandbox, realmID, functionDecl string, thisHandle string, argHandles []string, argValues []json.RawMessage, awaitPromise bool, ownership string, serializationOptions json.RawMessage) (map[string]any, *bidierr.Error) {
	r, rerr := c.resolveRealm(contextID, sandbox, realmID)
	if rerr != nil {
		return nil, rerr
	}
	lookup, serr := c.sessionFor(r)
	if serr != nil {
		return nil, serr
	}
	if awaitErr := c.awaitUnblocked(ctx, lookup.bc); awaitErr != nil {
		return nil, awaitErr
	}

	args := make([]map[string]any, 0, len(argHandles)+len(argValues))
	for _, h := range argHandles {
		args = append(args, map[string]any{"objectId": h})
	}
	for _, v := range argValues {
		args = append(args, map[string]any{"value": json.RawMessage(v)})
	}

	params := map[string]any{
		"functionDeclaration":  functionDecl,
		"executionContextId":   r.ExecutionContextID,
		"arguments":            args,
		"awaitPromise":         awaitPromise,
		"serializationOptions": mergeSerializationOptions(serializationOptions),
	}
	if thisHandle != "" {
		params["objectId"] = thisHandle
	}
	raw, err := lookup.target.Session.Send("Runtime.callFunctionOn", params)
	if err != nil {
		return nil, bidierr.UnknownError("%s", err.Error())
	}
	return c.finishEvaluation(raw, r, lookup, ownership)
}

func (c *Context) finishEvaluation(raw json.RawMessage, r *storage.Realm, lookup *cdpSessionLookup, ownership string) (map[string]any, *bidierr.Error) {
	var result callFunctionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, bidierr.UnknownError("malformed evaluation result: %v", err)
	}
	if result.ExceptionDetails != nil {
		return map[string]any{
			"type":              "exception",
			"exceptionDetails":  map[string]any{"text": result.ExceptionDetails.Text},
		}, nil
	}

	value := c.serializeRemoteObject(&result.Result, lookup.bc.NavigableID)

	if result.Result.ObjectID != "" {
		switch ownership {
		case "root":
			value["handle"] = result.Result.ObjectID
			c.Realms.RegisterHandle(result.Result.ObjectID, r.ID)
		default:
			// Fire-and-forget release; "Invalid remote object id" is
			// expected and swallowed per §4.4/§7.
			if _, err := lookup.target.Session.Send("Runtime.releaseObject", map[string]string{"objectId": result.Result.ObjectID}); err != nil {
				c.Log.WithError(err).Debug("releaseObject failed for a fire-and-forget release")
			}
		}
	}

	return map[string]any{"type": "success", "result": value}, nil
}

// serializeRemoteObject transforms a CDP RemoteObject (with its
// deepSerializedValue) into a BiDi RemoteValue per §4.4's rules.
func (c *Context) serializeRemoteObject(obj *cdpRemoteObject, navigableID string) map[string]any {
	if len(obj.DeepSerializedValue) == 0 {
		return map[string]any{"type": obj.Type}
	}
	var dv map[string]any
	if err := json.Unmarshal(obj.DeepSerializedValue, &dv); err != nil {
		return map[string]any{"type": obj.Type}
	}
	return transformDeepSerializedValue(dv, navigableID)
}

// transformDeepSerializedValue recursively applies the §4.4 rename/
// collapse/sharedId rules to one CDP deepSerializedValue node.
func transformDeepSerializedValue(dv map[string]any, navigableID string) map[string]any {
	out := make(map[string]any, len(dv))
	for k, v := range dv {
		out[k] = v
	}

	if typ, _ := out["type"].(string); typ == "platformobject" {
		out["type"] = "object"
		delete(out, "value")
		return out
	}

	if v, ok := out["weakLocalObjectReference"]; ok {
		out["internalId"] = v
		delete(out, "weakLocalObjectReference")
	}

	if typ, _ := out["type"].(string); typ == "node" {
		if valMap, ok := out["value"].(map[string]any); ok {
			if backendID, ok := valMap["backendNodeId"]; ok {
				out["sharedId"] = fmt.Sprintf("%s%s%v", navigableID, sharedIDDivider, backendID)
			}
		}
	}

	switch raw := out["value"].(type) {
	case []any:
		out["value"] = transformValueSlice(raw, navigableID)
	case map[string]any:
		out["value"] = transformDeepSerializedValue(raw, navigableID)
	}
	return out
}

// transformValueSlice recurses into array elements and [key, value]
// entry pairs (used for object/map/set serializations).
func transformValueSlice(items []any, navigableID string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case map[string]any:
			out[i] = transformDeepSerializedValue(v, navigableID)
		case []any:
			// An [key, value] entry pair: transform the value half
			// whenever it is an object; the key half is left as is.
			pair := make([]any, len(v))
			copy(pair, v)
			if len(pair) == 2 {
				if nested, ok := pair[1].(map[string]any); ok {
					pair[1] = transformDeepSerializedValue(nested, navigableID)
				}
			}
			out[i] = pair
		default:
			out[i] = item
		}
	}
	return out
}

// Disown implements script.disown: idempotent, and a no-op when the
// handle belongs to a different realm than the one named by the
// command's target (§4.4, §8 round-trip property).
func (c *Context) Disown(contextID, sandbox, realmID string, handles []string) *bidierr.Error {
	target, rerr := c.resolveRealm(contextID, sandbox, realmID)
	if rerr != nil {
		return rerr
	}
	for _, h := range handles {
		owner, ok := c.Realms.RealmForHandle(h)
		if !ok {
			continue
		}
		if owner != target.ID {
			continue
		}
		lookup, serr := c.sessionFor(target)
		if serr == nil {
			_, _ = lookup.target.Session.Send("Runtime.releaseObject", map[string]string{"objectId": h})
		}
		c.Realms.Disown(h)
	}
	return nil
}
