package storage

import "fmt"

// RealmType enumerates the Realm.type values from §3.
type RealmType string

const (
	RealmWindow         RealmType = "window"
	RealmDedicatedWorker RealmType = "dedicated-worker"
	RealmSharedWorker    RealmType = "shared-worker"
	RealmServiceWorker   RealmType = "service-worker"
	RealmWorker          RealmType = "worker"
	RealmPaintWorklet    RealmType = "paint-worklet"
	RealmAudioWorklet    RealmType = "audio-worklet"
	RealmWorklet         RealmType = "worklet"
)

// Realm is a JavaScript execution realm (§3).
type Realm struct {
	ID                  string
	BrowsingContextID    string
	ExecutionContextID  int64
	SessionID           string
	Origin              string
	Type                RealmType
	Sandbox             string // "" for the principal realm
}

// RealmFilter narrows FindRealms/GetRealm lookups (§4.2).
type RealmFilter struct {
	ContextID *string
	Type      *RealmType
	SessionID *string
	Sandbox   *string
}

func (f RealmFilter) matches(r *Realm) bool {
	if f.ContextID != nil && *f.ContextID != r.BrowsingContextID {
		return false
	}
	if f.Type != nil && *f.Type != r.Type {
		return false
	}
	if f.SessionID != nil && *f.SessionID != r.SessionID {
		return false
	}
	if f.Sandbox != nil && *f.Sandbox != r.Sandbox {
		return false
	}
	return true
}

// RealmStorage is §4.2's indexed realm store plus the handle→realm
// ownership index from §3/§4.4.
type RealmStorage struct {
	byID    map[string]*Realm
	byContext map[string][]string // contextID -> realm ids, creation order

	handleToRealm map[string]string // RemoteHandle -> realm id
}

func NewRealmStorage() *RealmStorage {
	return &RealmStorage{
		byID:          make(map[string]*Realm),
		byContext:     make(map[string][]string),
		handleToRealm: make(map[string]string),
	}
}

// AddRealm indexes a newly created realm.
func (s *RealmStorage) AddRealm(r *Realm) {
	s.byID[r.ID] = r
	s.byContext[r.BrowsingContextID] = append(s.byContext[r.BrowsingContextID], r.ID)
}

// DeleteRealm removes a realm and purges any handles it granted
// (invariant 2).
func (s *RealmStorage) DeleteRealm(id string) {
	r, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	s.byContext[r.BrowsingContextID] = removeString(s.byContext[r.BrowsingContextID], id)
	for h, realmID := range s.handleToRealm {
		if realmID == id {
			delete(s.handleToRealm, h)
		}
	}
}

// DeleteRealmsForContext removes every realm belonging to contextID,
// called when a context is destroyed (§3 lifecycle).
func (s *RealmStorage) DeleteRealmsForContext(contextID string) {
	for _, id := range append([]string(nil), s.byContext[contextID]...) {
		s.DeleteRealm(id)
	}
}

// FindRealms returns every realm matching filter.
func (s *RealmStorage) FindRealms(filter RealmFilter) []*Realm {
	var out []*Realm
	for _, r := range s.byID {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// GetRealm returns the single realm matching filter, or an error if
// zero or more than one match (§4.2).
func (s *RealmStorage) GetRealm(filter RealmFilter) (*Realm, error) {
	matches := s.FindRealms(filter)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no such realm")
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous realm: %d matches", len(matches))
	}
}

// GetRealmByID returns the realm with the given id, if it exists.
func (s *RealmStorage) GetRealmByID(id string) (*Realm, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// RegisterHandle records that handle was granted from realmID
// (invariant 1/2).
func (s *RealmStorage) RegisterHandle(handle, realmID string) {
	s.handleToRealm[handle] = realmID
}

// RealmForHandle returns the realm that granted handle, if any.
func (s *RealmStorage) RealmForHandle(handle string) (string, bool) {
	id, ok := s.handleToRealm[handle]
	return id, ok
}

// Disown removes handle from the index. Idempotent: removing an
// already-absent handle is a no-op (§4.4, §8 round-trip property).
func (s *RealmStorage) Disown(handle string) {
	delete(s.handleToRealm, handle)
}
