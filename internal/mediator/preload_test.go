package mediator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPreloadScriptMaterializesOnExistingTargets(t *testing.T) {
	var sawInstall bool
	c, _, closeConn := attachedContext(t, func(fb *fakeBrowser, m fakeCdpMessage) {
		if m.Method == "Page.addScriptToEvaluateOnNewDocument" {
			sawInstall = true
			fb.reply(m.ID, map[string]any{"identifier": "script-1"})
			return
		}
		fb.reply(m.ID, map[string]any{})
	})
	defer closeConn()

	id, err := c.AddPreloadScript("", "() => {}", "", false)
	require.Nil(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, sawInstall, "an already-attached target must get the new preload script installed")
}

func TestAddPreloadScriptRejectsArguments(t *testing.T) {
	c := newTestContext(t)
	_, err := c.AddPreloadScript("", "() => {}", "", true)
	require.NotNil(t, err)
}

func TestRemovePreloadScriptUninstallsFromEveryTarget(t *testing.T) {
	var sawRemove bool
	c, _, closeConn := attachedContext(t, func(fb *fakeBrowser, m fakeCdpMessage) {
		switch m.Method {
		case "Page.addScriptToEvaluateOnNewDocument":
			fb.reply(m.ID, map[string]any{"identifier": "script-1"})
		case "Page.removeScriptToEvaluateOnNewDocument":
			sawRemove = true
			fb.reply(m.ID, map[string]any{})
		default:
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeConn()

	id, err := c.AddPreloadScript("", "() => {}", "", false)
	require.Nil(t, err)

	rerr := c.RemovePreloadScript(id)
	require.Nil(t, rerr)
	assert.True(t, sawRemove)

	rerr = c.RemovePreloadScript(id)
	require.NotNil(t, rerr, "removing an already-removed script must fail")
}
