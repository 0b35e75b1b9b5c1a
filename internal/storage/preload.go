package storage

import "fmt"

// TargetScript is the (cdpTarget, cdpPreloadScriptId) materialization
// pair for a BidiPreloadScript, per §3.
type TargetScript struct {
	TargetID           string
	CdpPreloadScriptID string
}

// PreloadScript is a BidiPreloadScript record (§3).
type PreloadScript struct {
	ID             string
	ContextFilter  string // "" means "every top-level context, present and future"
	FunctionSource string
	Sandbox        string
	Targets        []TargetScript
}

// PreloadScriptStorage is §4.6's preload-script store.
type PreloadScriptStorage struct {
	byID   map[string]*PreloadScript
	nextID int
}

func NewPreloadScriptStorage() *PreloadScriptStorage {
	return &PreloadScriptStorage{byID: make(map[string]*PreloadScript)}
}

// AddPreloadScript registers a new BiDi preload script record (not yet
// materialized against any target — the caller installs it via
// Page.addScriptToEvaluateOnNewDocument and calls RecordTarget per
// attached target, per §4.6).
func (s *PreloadScriptStorage) AddPreloadScript(contextFilter, functionSource, sandbox string) *PreloadScript {
	s.nextID++
	p := &PreloadScript{
		ID:             fmt.Sprintf("preload-%d", s.nextID),
		ContextFilter:  contextFilter,
		FunctionSource: functionSource,
		Sandbox:        sandbox,
	}
	s.byID[p.ID] = p
	return p
}

// RecordTarget appends a (target, cdpId) materialization pair.
func (s *PreloadScriptStorage) RecordTarget(id, targetID, cdpID string) {
	if p, ok := s.byID[id]; ok {
		p.Targets = append(p.Targets, TargetScript{TargetID: targetID, CdpPreloadScriptID: cdpID})
	}
}

// PreloadFilter narrows FindPreloadScripts lookups.
type PreloadFilter struct {
	ID        *string
	ContextID *string // matches records whose ContextFilter is "" or equals this
	TargetID  *string // matches records materialized against this target
}

// FindPreloadScripts returns every record matching filter.
func (s *PreloadScriptStorage) FindPreloadScripts(filter PreloadFilter) []*PreloadScript {
	var out []*PreloadScript
	for _, p := range s.byID {
		if filter.ID != nil && *filter.ID != p.ID {
			continue
		}
		if filter.ContextID != nil && p.ContextFilter != "" && p.ContextFilter != *filter.ContextID {
			continue
		}
		if filter.TargetID != nil {
			found := false
			for _, t := range p.Targets {
				if t.TargetID == *filter.TargetID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// RemoveBiDiPreloadScript deletes the BiDi record entirely (script.removePreloadScript).
func (s *PreloadScriptStorage) RemoveBiDiPreloadScript(id string) {
	delete(s.byID, id)
}

// RemoveCdpPreloadScripts drops the (target, cdpId) pairs materialized
// against targetID across every record (target teardown), retaining
// the BiDi record itself when other targets still carry it (§4.6).
func (s *PreloadScriptStorage) RemoveCdpPreloadScripts(targetID string) {
	for _, p := range s.byID {
		filtered := p.Targets[:0]
		for _, t := range p.Targets {
			if t.TargetID != targetID {
				filtered = append(filtered, t)
			}
		}
		p.Targets = filtered
	}
}
