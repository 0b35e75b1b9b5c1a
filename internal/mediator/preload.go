package mediator

import (
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/storage"
)

// installPreloadScripts installs every BiDi preload script whose
// contextFilter is empty (applies to every top-level context) or
// matches t's context, via Page.addScriptToEvaluateOnNewDocument,
// recording the (target, cdpId) pair (§4.6).
func (c *Context) installPreloadScripts(t *CdpTarget) {
	for _, p := range c.Preloads.FindPreloadScripts(storage.PreloadFilter{ContextID: &t.ContextID}) {
		c.materializeOnTarget(p, t)
	}
}

func (c *Context) materializeOnTarget(p *storage.PreloadScript, t *CdpTarget) {
	params := map[string]any{"source": p.FunctionSource}
	if p.Sandbox != "" {
		params["worldName"] = p.Sandbox
	}
	raw, err := t.Session.Send("Page.addScriptToEvaluateOnNewDocument", params)
	if err != nil {
		c.Log.WithError(err).WithField("targetId", t.TargetID).Warn("failed to install preload script")
		return
	}
	var result struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		c.Log.WithError(err).Warn("malformed addScriptToEvaluateOnNewDocument result")
		return
	}
	c.Preloads.RecordTarget(p.ID, t.TargetID, result.Identifier)
}

// AddPreloadScript implements script.addPreloadScript. A non-empty
// arguments array is not yet supported (§8 boundary behavior).
func (c *Context) AddPreloadScript(contextFilter, functionSource, sandbox string, hasArguments bool) (string, *bidierr.Error) {
	if hasArguments {
		return "", bidierr.UnsupportedOperation("script.addPreloadScript with a non-empty arguments array is not supported")
	}
	p := c.Preloads.AddPreloadScript(contextFilter, functionSource, sandbox)

	var targets []*CdpTarget
	if contextFilter == "" {
		for _, bc := range c.visibleTopLevelContexts() {
			if t, ok := c.targetByID(bc.TargetID); ok {
				targets = append(targets, t)
			}
		}
	} else if t, ok := c.targetForContext(contextFilter); ok {
		targets = append(targets, t)
	}
	for _, t := range targets {
		c.materializeOnTarget(p, t)
	}
	return p.ID, nil
}

func (c *Context) targetForContext(contextID string) (*CdpTarget, bool) {
	bc := c.Contexts.FindContext(contextID)
	if bc == nil {
		return nil, false
	}
	return c.targetByID(bc.TargetID)
}

// RemovePreloadScript implements script.removePreloadScript: it
// un-installs the script from every target that carries it, then
// drops the BiDi record (round-trip property in §8: add then remove
// leaves the CDP preload-script set unchanged).
func (c *Context) RemovePreloadScript(id string) *bidierr.Error {
	matches := c.Preloads.FindPreloadScripts(storage.PreloadFilter{ID: &id})
	if len(matches) == 0 {
		return bidierr.NoSuchScript(id)
	}
	p := matches[0]
	for _, ts := range p.Targets {
		t, ok := c.targetByID(ts.TargetID)
		if !ok {
			continue
		}
		if _, err := t.Session.Send("Page.removeScriptToEvaluateOnNewDocument", map[string]string{"identifier": ts.CdpPreloadScriptID}); err != nil {
			c.Log.WithError(err).Debug("failed to remove preload script from target, likely already detached")
		}
	}
	c.Preloads.RemoveBiDiPreloadScript(id)
	return nil
}
