package mediator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bidicdp/mediator/internal/bidierr"
	"github.com/bidicdp/mediator/internal/cdp"
	"github.com/bidicdp/mediator/internal/storage"
)

// navWaiter tracks one in-flight navigate() call's resolution against
// the loaderId the browser assigns to it (§4.3).
type navWaiter struct {
	loaderID    string
	gotLoaderID chan struct{}
	interactive chan struct{}
	complete    chan struct{}
	aborted     chan error
}

func newNavWaiter() *navWaiter {
	return &navWaiter{
		gotLoaderID: make(chan struct{}),
		interactive: make(chan struct{}),
		complete:    make(chan struct{}),
		aborted:     make(chan error, 1),
	}
}

func (c *Context) beginNav(contextID string) *navWaiter {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	w := newNavWaiter()
	c.navWaiters[contextID] = w
	return w
}

func (c *Context) endNav(contextID string, w *navWaiter) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	if c.navWaiters[contextID] == w {
		delete(c.navWaiters, contextID)
	}
}

func (c *Context) abortNav(contextID string, err error) {
	c.navMu.Lock()
	w, ok := c.navWaiters[contextID]
	if ok {
		delete(c.navWaiters, contextID)
	}
	c.navMu.Unlock()
	if ok {
		select {
		case w.aborted <- err:
		default:
		}
	}
}

func (c *Context) navWaiterFor(contextID string) (*navWaiter, bool) {
	c.navMu.Lock()
	defer c.navMu.Unlock()
	w, ok := c.navWaiters[contextID]
	return w, ok
}

type pageNavigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId"`
	ErrorText string `json:"errorText"`
}

// Navigate implements browsingContext.navigate (§4.3).
func (c *Context) Navigate(ctx context.Context, contextID, url, wait string) (map[string]any, *bidierr.Error) {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return nil, bidierr.NoSuchFrame(contextID)
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return nil, bidierr.NoSuchFrame(contextID)
	}

	bc.State = storage.StateNavigating
	w := c.beginNav(contextID)
	defer c.endNav(contextID, w)

	raw, sendErr := target.Session.Send("Page.navigate", map[string]any{"url": url, "frameId": contextID})
	if sendErr != nil {
		return nil, bidierr.UnknownError("%s", sendErr.Error())
	}
	var result pageNavigateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, bidierr.UnknownError("malformed Page.navigate result: %v", err)
	}
	if result.ErrorText != "" {
		return nil, bidierr.UnknownError("%s", result.ErrorText)
	}
	w.loaderID = result.LoaderID
	close(w.gotLoaderID)

	waitCh := w.complete
	switch wait {
	case "", "none":
		return map[string]any{"navigation": result.LoaderID, "url": url}, nil
	case "interactive":
		waitCh = w.interactive
	case "complete":
		waitCh = w.complete
	default:
		return nil, bidierr.InvalidArgument("unknown wait condition %q", wait)
	}

	select {
	case <-waitCh:
		return map[string]any{"navigation": result.LoaderID, "url": bc.URL}, nil
	case abortErr := <-w.aborted:
		return nil, bidierr.UnknownError("%s", abortErr.Error())
	case <-ctx.Done():
		return nil, bidierr.UnknownError("%s", ctx.Err().Error())
	}
}

type frameAttachedEvent struct {
	FrameID       string `json:"frameId"`
	ParentFrameID string `json:"parentFrameId"`
}

func (c *Context) handleFrameAttached(t *CdpTarget, raw json.RawMessage) {
	var ev frameAttachedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed frameAttached event")
		return
	}
	if c.Contexts.FindContext(ev.FrameID) != nil {
		return
	}
	bc, err := c.Contexts.AddContext(ev.FrameID, ev.ParentFrameID, t.TargetID)
	if err != nil {
		c.Log.WithError(err).WithField("frameId", ev.FrameID).Debug("frame attach raced context creation")
		return
	}
	c.registerEvent("browsingContext.contextCreated", bc.ID, map[string]any{
		"context": bc.ID, "url": bc.URL, "parent": nullableString(bc.ParentID),
	})
}

type frameDetachedEvent struct {
	FrameID string `json:"frameId"`
	Reason  string `json:"reason"`
}

func (c *Context) handleFrameDetached(t *CdpTarget, raw json.RawMessage) {
	var ev frameDetachedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed frameDetached event")
		return
	}
	if ev.Reason == "swap" {
		return
	}
	c.deleteContextSubtree(ev.FrameID)
}

func (c *Context) deleteContextSubtree(contextID string) {
	c.abortNav(contextID, fmt.Errorf("navigation aborted"))
	removed := c.Contexts.DeleteContext(contextID)
	for _, id := range removed {
		c.Realms.DeleteRealmsForContext(id)
		c.Events.DiscardContext(id)
		c.dropInputState(id)
	}
}

type frameNavigatedEvent struct {
	Frame struct {
		ID       string `json:"id"`
		ParentID string `json:"parentId"`
		URL      string `json:"url"`
		LoaderID string `json:"loaderId"`
	} `json:"frame"`
}

func (c *Context) handleFrameNavigated(t *CdpTarget, raw json.RawMessage) {
	var ev frameNavigatedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed frameNavigated event")
		return
	}
	bc := c.Contexts.FindContext(ev.Frame.ID)
	if bc == nil {
		return
	}

	firstNavigation := bc.NavigableID == ""
	bc.URL = ev.Frame.URL
	bc.NavigableID = ev.Frame.LoaderID
	bc.State = storage.StateLoading
	bc.ResetLoadSignal()
	bc.ClearRealms()

	if firstNavigation {
		bc.MarkUnblocked()
	}
}

type lifecycleEvent struct {
	FrameID  string `json:"frameId"`
	LoaderID string `json:"loaderId"`
	Name     string `json:"name"`
}

func (c *Context) handleLifecycleEvent(t *CdpTarget, raw json.RawMessage) {
	var ev lifecycleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.Log.WithError(err).Warn("malformed lifecycleEvent")
		return
	}
	bc := c.Contexts.FindContext(ev.FrameID)
	if bc == nil {
		return
	}

	switch ev.Name {
	case "DOMContentLoaded":
		bc.State = storage.StateInteractive
		c.registerEvent("browsingContext.domContentLoaded", bc.ID, map[string]any{
			"context": bc.ID, "url": bc.URL, "navigation": ev.LoaderID,
		})
		c.resolveNavStage(bc.ID, ev.LoaderID, func(w *navWaiter) chan struct{} { return w.interactive })
	case "load":
		bc.State = storage.StateComplete
		bc.MarkLoaded()
		c.registerEvent("browsingContext.load", bc.ID, map[string]any{
			"context": bc.ID, "url": bc.URL, "navigation": ev.LoaderID,
		})
		c.resolveNavStage(bc.ID, ev.LoaderID, func(w *navWaiter) chan struct{} { return w.complete })
	}
}

func (c *Context) resolveNavStage(contextID, loaderID string, pick func(*navWaiter) chan struct{}) {
	w, ok := c.navWaiterFor(contextID)
	if !ok {
		return
	}
	select {
	case <-w.gotLoaderID:
	default:
		return
	}
	if w.loaderID != loaderID {
		return
	}
	ch := pick(w)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Close implements browsingContext.close: resolves once Target.closeTarget
// returns and the corresponding detach has been observed (§8 scenario 6).
func (c *Context) Close(ctx context.Context, contextID string) *bidierr.Error {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return bidierr.NoSuchFrame(contextID)
	}
	if !bc.IsTopLevel() {
		return bidierr.InvalidArgument("browsingContext.close requires a top-level context")
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return bidierr.NoSuchFrame(contextID)
	}

	detached := make(chan struct{})
	closeListener := func(raw json.RawMessage) {
		var ev detachedFromTargetEvent
		if json.Unmarshal(raw, &ev) == nil && ev.TargetID == target.TargetID {
			select {
			case <-detached:
			default:
				close(detached)
			}
		}
	}
	target.Session.On("Target.detachedFromTarget", closeListener)

	browserClient := cdp.BrowserSession(c.Conn)
	if _, sendErr := browserClient.Send("Target.closeTarget", map[string]string{"targetId": target.TargetID}); sendErr != nil {
		return bidierr.UnknownError("%s", sendErr.Error())
	}

	select {
	case <-detached:
	case <-ctx.Done():
		return bidierr.UnknownError("%s", ctx.Err().Error())
	}
	return nil
}

// GetTree implements browsingContext.getTree, excluding the self target
// (invariant 6).
func (c *Context) GetTree(rootID string, maxDepth *int) ([]map[string]any, *bidierr.Error) {
	var roots []*storage.Context
	if rootID != "" {
		bc, err := c.Contexts.GetContext(rootID)
		if err != nil {
			return nil, bidierr.NoSuchFrame(rootID)
		}
		roots = []*storage.Context{bc}
	} else {
		roots = c.visibleTopLevelContexts()
	}

	out := make([]map[string]any, 0, len(roots))
	for _, r := range roots {
		out = append(out, c.contextInfo(r, 0, maxDepth))
	}
	return out, nil
}

func (c *Context) contextInfo(bc *storage.Context, depth int, maxDepth *int) map[string]any {
	info := map[string]any{
		"context":  bc.ID,
		"url":      bc.URL,
		"parent":   nullableString(bc.ParentID),
		"children": []map[string]any{},
	}
	if maxDepth != nil && depth >= *maxDepth {
		return info
	}
	var children []map[string]any
	for _, child := range c.Contexts.Children(bc.ID) {
		children = append(children, c.contextInfo(child, depth+1, maxDepth))
	}
	info["children"] = children
	return info
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CaptureScreenshot implements browsingContext.captureScreenshot. Per
// the Open Questions decision (b), this does not block on awaitLoaded,
// only on the context's unblocked signal.
func (c *Context) CaptureScreenshot(ctx context.Context, contextID string) (string, *bidierr.Error) {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return "", bidierr.NoSuchFrame(contextID)
	}
	if awaitErr := c.awaitUnblocked(ctx, bc); awaitErr != nil {
		return "", awaitErr
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return "", bidierr.NoSuchFrame(contextID)
	}
	raw, sendErr := target.Session.Send("Page.captureScreenshot", struct{}{})
	if sendErr != nil {
		return "", bidierr.UnknownError("%s", sendErr.Error())
	}
	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", bidierr.UnknownError("malformed captureScreenshot result: %v", err)
	}
	return result.Data, nil
}

// Print implements browsingContext.print, delegating to Page.printToPDF.
func (c *Context) Print(ctx context.Context, contextID string) (string, *bidierr.Error) {
	bc, err := c.Contexts.GetContext(contextID)
	if err != nil {
		return "", bidierr.NoSuchFrame(contextID)
	}
	if awaitErr := c.awaitUnblocked(ctx, bc); awaitErr != nil {
		return "", awaitErr
	}
	target, ok := c.targetByID(bc.TargetID)
	if !ok {
		return "", bidierr.NoSuchFrame(contextID)
	}
	raw, sendErr := target.Session.Send("Page.printToPDF", struct{}{})
	if sendErr != nil {
		return "", bidierr.UnknownError("%s", sendErr.Error())
	}
	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", bidierr.UnknownError("malformed printToPDF result: %v", err)
	}
	return result.Data, nil
}

// awaitUnblocked waits for the context's bootstrap about:blank to
// finish, or the caller's context to be cancelled (§4.3).
func (c *Context) awaitUnblocked(ctx context.Context, bc *storage.Context) *bidierr.Error {
	select {
	case <-bc.Unblocked():
		return nil
	case <-ctx.Done():
		return bidierr.UnknownError("%s", ctx.Err().Error())
	}
}

// awaitLoaded waits for the context's current navigation to reach
// Complete, or the caller's context to be cancelled.
func (c *Context) awaitLoaded(ctx context.Context, bc *storage.Context) *bidierr.Error {
	select {
	case <-bc.Loaded():
		return nil
	case <-ctx.Done():
		return bidierr.UnknownError("%s", ctx.Err().Error())
	}
}

// CreateContext implements browsingContext.create, including the
// referenceContext variant that opens a related tab by forwarding
// openerId (SPEC_FULL.md §4 supplement).
func (c *Context) CreateContext(ctx context.Context, typ string, referenceContext *string) (string, *bidierr.Error) {
	params := map[string]any{"url": "about:blank"}
	if typ == "window" {
		params["newWindow"] = true
	}
	if referenceContext != nil && *referenceContext != "" {
		params["openerId"] = *referenceContext
	}
	browserClient := cdp.BrowserSession(c.Conn)
	raw, sendErr := browserClient.Send("Target.createTarget", params)
	if sendErr != nil {
		return "", bidierr.UnknownError("%s", sendErr.Error())
	}
	var result struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", bidierr.UnknownError("malformed createTarget result: %v", err)
	}
	// The attach sequence completes asynchronously via
	// Target.attachedToTarget; wait for it rather than polling.
	select {
	case <-c.waitForAttach(result.TargetID):
		return result.TargetID, nil
	case <-ctx.Done():
		return "", bidierr.UnknownError("%s", ctx.Err().Error())
	}
}
