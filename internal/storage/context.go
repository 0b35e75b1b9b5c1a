// Package storage implements the three indexed, single-writer stores
// from §4.2/§4.6: BrowsingContextStorage, RealmStorage and
// PreloadScriptStorage, plus the handle→realm ownership index. All
// mutation happens from the mediator's single cooperative goroutine
// (§5), so these stores need no internal locking — they mirror the
// teacher's sync.Map session registry in internal/proxy/router.go,
// generalized from one flat map into the tree/ownership structures §3
// requires.
package storage

import "fmt"

// NavigationState is a BrowsingContext's position in the state machine
// from §4.3.
type NavigationState string

const (
	StateInitial     NavigationState = "initial"
	StateNavigating  NavigationState = "navigating"
	StateLoading     NavigationState = "loading"
	StateInteractive NavigationState = "interactive"
	StateComplete    NavigationState = "complete"
	StateDeleted     NavigationState = "deleted"
)

// Context is a BrowsingContext (§3): a frame, identified by an opaque
// id equal to the CDP frame id.
type Context struct {
	ID       string
	ParentID string // "" for a top-level context
	TargetID string // the owning CdpTarget's target id

	URL         string
	State       NavigationState
	NavigableID string // the current loader id, scoping sharedId values

	// realmsBySandbox maps sandbox name ("" for the principal realm)
	// to realm id, for fast lookup during script evaluation.
	realmsBySandbox map[string]string

	loaded    chan struct{}
	unblocked chan struct{}
}

func newContext(id, parentID, targetID string) *Context {
	return &Context{
		ID:              id,
		ParentID:        parentID,
		TargetID:        targetID,
		State:           StateInitial,
		realmsBySandbox: make(map[string]string),
		loaded:          make(chan struct{}),
		unblocked:        make(chan struct{}),
	}
}

// IsTopLevel reports whether c has no parent (§3).
func (c *Context) IsTopLevel() bool { return c.ParentID == "" }

// Loaded returns the edge-triggered "page fully loaded" signal.
func (c *Context) Loaded() <-chan struct{} { return c.loaded }

// Unblocked returns the edge-triggered "bootstrap about:blank done" signal.
func (c *Context) Unblocked() <-chan struct{} { return c.unblocked }

// MarkLoaded closes the loaded signal if not already closed.
func (c *Context) MarkLoaded() {
	select {
	case <-c.loaded:
	default:
		close(c.loaded)
	}
}

// MarkUnblocked closes the unblocked signal if not already closed.
func (c *Context) MarkUnblocked() {
	select {
	case <-c.unblocked:
	default:
		close(c.unblocked)
	}
}

// ResetLoadSignal is called on each new navigation: the loaded signal
// is "edge-triggered one-shot, reset on each new navigation" (§4.3).
func (c *Context) ResetLoadSignal() {
	c.loaded = make(chan struct{})
}

// RealmForSandbox returns the realm id installed for the given sandbox
// name ("" for the principal realm), if any.
func (c *Context) RealmForSandbox(sandbox string) (string, bool) {
	id, ok := c.realmsBySandbox[sandbox]
	return id, ok
}

// SetRealmForSandbox records which realm backs a sandbox name.
func (c *Context) SetRealmForSandbox(sandbox, realmID string) {
	c.realmsBySandbox[sandbox] = realmID
}

// ClearRealms drops all sandbox->realm associations, called when the
// context navigates and its realms are torn down.
func (c *Context) ClearRealms() {
	c.realmsBySandbox = make(map[string]string)
}

// ContextStorage is BrowsingContextStorage (§4.2).
type ContextStorage struct {
	byID     map[string]*Context
	children map[string][]string // parentID -> child ids, in creation order
	topLevel []string            // top-level context ids, in creation order
}

func NewContextStorage() *ContextStorage {
	return &ContextStorage{
		byID:     make(map[string]*Context),
		children: make(map[string][]string),
	}
}

// FindContext returns the context, or nil if it does not exist.
func (s *ContextStorage) FindContext(id string) *Context {
	return s.byID[id]
}

// GetContext returns the context or a NoSuchFrame-shaped error (the
// caller wraps it as bidierr.NoSuchFrame; storage itself stays
// protocol-agnostic per §9's "storages are the sole owners").
func (s *ContextStorage) GetContext(id string) (*Context, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("no such frame: %s", id)
	}
	return c, nil
}

// GetTopLevelContexts returns top-level contexts in creation order.
func (s *ContextStorage) GetTopLevelContexts() []*Context {
	out := make([]*Context, 0, len(s.topLevel))
	for _, id := range s.topLevel {
		out = append(out, s.byID[id])
	}
	return out
}

// Children returns the direct children of id, in creation order.
func (s *ContextStorage) Children(id string) []*Context {
	ids := s.children[id]
	out := make([]*Context, 0, len(ids))
	for _, cid := range ids {
		if c, ok := s.byID[cid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AddContext creates and indexes a new context (invariant 3: parentId
// is null or refers to an existing context).
func (s *ContextStorage) AddContext(id, parentID, targetID string) (*Context, error) {
	if _, exists := s.byID[id]; exists {
		return nil, fmt.Errorf("context %s already exists", id)
	}
	if parentID != "" {
		if _, ok := s.byID[parentID]; !ok {
			return nil, fmt.Errorf("parent context %s does not exist", parentID)
		}
	}
	c := newContext(id, parentID, targetID)
	s.byID[id] = c
	if parentID == "" {
		s.topLevel = append(s.topLevel, id)
	} else {
		s.children[parentID] = append(s.children[parentID], id)
	}
	return c, nil
}

// DeleteContext removes id and cascades to its children (§3 lifecycle).
// Returns the ids removed, deepest-first with id itself last, for the caller to cascade
// realm/handle cleanup against.
func (s *ContextStorage) DeleteContext(id string) []string {
	c, ok := s.byID[id]
	if !ok {
		return nil
	}
	var removed []string
	for _, childID := range append([]string(nil), s.children[id]...) {
		removed = append(removed, s.DeleteContext(childID)...)
	}
	c.State = StateDeleted
	delete(s.byID, id)
	delete(s.children, id)
	if c.ParentID == "" {
		s.topLevel = removeString(s.topLevel, id)
	} else {
		s.children[c.ParentID] = removeString(s.children[c.ParentID], id)
	}
	removed = append(removed, id)
	return removed
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
