package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndRecordPreloadScript(t *testing.T) {
	s := NewPreloadScriptStorage()
	p := s.AddPreloadScript("", "() => {}", "")
	require.NotEmpty(t, p.ID)

	s.RecordTarget(p.ID, "target-1", "cdp-1")
	s.RecordTarget(p.ID, "target-2", "cdp-2")
	assert.Len(t, p.Targets, 2)
}

func TestFindPreloadScriptsByContextFilter(t *testing.T) {
	s := NewPreloadScriptStorage()
	global := s.AddPreloadScript("", "() => {}", "")
	scoped := s.AddPreloadScript("ctx-1", "() => {}", "")

	ctx1 := "ctx-1"
	found := s.FindPreloadScripts(PreloadFilter{ContextID: &ctx1})
	ids := map[string]bool{}
	for _, p := range found {
		ids[p.ID] = true
	}
	assert.True(t, ids[global.ID], "a global preload script must apply to every context")
	assert.True(t, ids[scoped.ID])

	ctx2 := "ctx-2"
	found = s.FindPreloadScripts(PreloadFilter{ContextID: &ctx2})
	ids = map[string]bool{}
	for _, p := range found {
		ids[p.ID] = true
	}
	assert.True(t, ids[global.ID])
	assert.False(t, ids[scoped.ID], "a context-scoped script must not apply elsewhere")
}

func TestRemoveBiDiPreloadScript(t *testing.T) {
	s := NewPreloadScriptStorage()
	p := s.AddPreloadScript("", "() => {}", "")
	s.RemoveBiDiPreloadScript(p.ID)
	assert.Empty(t, s.FindPreloadScripts(PreloadFilter{ID: &p.ID}))
}

func TestRemoveCdpPreloadScriptsKeepsBiDiRecord(t *testing.T) {
	s := NewPreloadScriptStorage()
	p := s.AddPreloadScript("", "() => {}", "")
	s.RecordTarget(p.ID, "target-1", "cdp-1")
	s.RecordTarget(p.ID, "target-2", "cdp-2")

	s.RemoveCdpPreloadScripts("target-1")
	assert.Len(t, p.Targets, 1)
	assert.Equal(t, "target-2", p.Targets[0].TargetID)

	id := p.ID
	found := s.FindPreloadScripts(PreloadFilter{ID: &id})
	require.Len(t, found, 1, "removing a target's materialization must not delete the BiDi record")
}
