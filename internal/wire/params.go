package wire

import "encoding/json"

// SessionSubscribeParams is session.subscribe / session.unsubscribe params.
type SessionSubscribeParams struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts,omitempty"`
	Channel  string   `json:"channel,omitempty"`
}

// BrowsingContextCreateParams is browsingContext.create params.
type BrowsingContextCreateParams struct {
	Type            string  `json:"type"`
	ReferenceContext *string `json:"referenceContext,omitempty"`
	Background      bool    `json:"background,omitempty"`
}

// BrowsingContextNavigateParams is browsingContext.navigate params.
type BrowsingContextNavigateParams struct {
	Context string `json:"context"`
	URL     string `json:"url"`
	Wait    string `json:"wait,omitempty"` // "none" | "interactive" | "complete"
}

// BrowsingContextCloseParams is browsingContext.close params.
type BrowsingContextCloseParams struct {
	Context       string `json:"context"`
	PromptUnload  bool   `json:"promptUnload,omitempty"`
}

// BrowsingContextGetTreeParams is browsingContext.getTree params.
type BrowsingContextGetTreeParams struct {
	Root   *string `json:"root,omitempty"`
	MaxDepth *int  `json:"maxDepth,omitempty"`
}

// BrowsingContextCaptureScreenshotParams is browsingContext.captureScreenshot params.
type BrowsingContextCaptureScreenshotParams struct {
	Context string `json:"context"`
}

// BrowsingContextPrintParams is browsingContext.print params.
type BrowsingContextPrintParams struct {
	Context string `json:"context"`
}

// ScriptTarget identifies either a realm or a (context, sandbox) pair.
type ScriptTarget struct {
	Realm   string `json:"realm,omitempty"`
	Context string `json:"context,omitempty"`
	Sandbox string `json:"sandbox,omitempty"`
}

// ResultOwnership is script.evaluate/callFunction's ownership mode.
type ResultOwnership string

const (
	OwnershipRoot ResultOwnership = "root"
	OwnershipNone ResultOwnership = "none"
)

// ScriptEvaluateParams is script.evaluate params.
type ScriptEvaluateParams struct {
	Expression          string          `json:"expression"`
	Target               ScriptTarget   `json:"target"`
	AwaitPromise         bool            `json:"awaitPromise"`
	ResultOwnership      ResultOwnership `json:"resultOwnership,omitempty"`
	SerializationOptions json.RawMessage `json:"serializationOptions,omitempty"`
}

// ScriptCallFunctionParams is script.callFunction params.
type ScriptCallFunctionParams struct {
	FunctionDeclaration  string            `json:"functionDeclaration"`
	This                 *RemoteReference  `json:"this,omitempty"`
	Arguments            []RemoteReference `json:"arguments,omitempty"`
	Target               ScriptTarget      `json:"target"`
	AwaitPromise         bool              `json:"awaitPromise"`
	ResultOwnership      ResultOwnership   `json:"resultOwnership,omitempty"`
	SerializationOptions json.RawMessage   `json:"serializationOptions,omitempty"`
}

// RemoteReference is either a handle reference or an inline local value.
type RemoteReference struct {
	Handle string          `json:"handle,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// ScriptDisownParams is script.disown params.
type ScriptDisownParams struct {
	Handles []string     `json:"handles"`
	Target  ScriptTarget `json:"target"`
}

// InputPerformActionsParams is input.performActions params.
type InputPerformActionsParams struct {
	Context string          `json:"context"`
	Actions []ActionSource  `json:"actions"`
}

// ActionSource is one source's action sequence.
type ActionSource struct {
	Type       string          `json:"type"` // "pointer" | "key" | "wheel" | "none"
	ID         string          `json:"id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Actions    []json.RawMessage `json:"actions"`
}

// InputReleaseActionsParams is input.releaseActions params.
type InputReleaseActionsParams struct {
	Context string `json:"context"`
}
