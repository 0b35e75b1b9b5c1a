package mediator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/storage"
)

func TestClassifyRealmType(t *testing.T) {
	assert.Equal(t, storage.RealmDedicatedWorker, classifyRealmType("worker", ""))
	assert.Equal(t, storage.RealmSharedWorker, classifyRealmType("shared-worker", ""))
	assert.Equal(t, storage.RealmServiceWorker, classifyRealmType("service-worker", ""))
	assert.Equal(t, storage.RealmWindow, classifyRealmType("default", ""))
}

func TestTransformDeepSerializedValueRenamesWeakReference(t *testing.T) {
	in := map[string]any{
		"type":                     "object",
		"weakLocalObjectReference": float64(7),
	}
	out := transformDeepSerializedValue(in, "nav-1")
	assert.Equal(t, float64(7), out["internalId"])
	_, hasOld := out["weakLocalObjectReference"]
	assert.False(t, hasOld)
}

func TestTransformDeepSerializedValueCollapsesPlatformObject(t *testing.T) {
	in := map[string]any{"type": "platformobject", "value": "should be dropped"}
	out := transformDeepSerializedValue(in, "nav-1")
	assert.Equal(t, "object", out["type"])
	_, hasValue := out["value"]
	assert.False(t, hasValue)
}

func TestTransformDeepSerializedValueBuildsSharedIDForNode(t *testing.T) {
	in := map[string]any{
		"type":  "node",
		"value": map[string]any{"backendNodeId": float64(42)},
	}
	out := transformDeepSerializedValue(in, "nav-1")
	assert.Equal(t, "nav-1_element_42", out["sharedId"])
}

func TestTransformDeepSerializedValueRecursesIntoArray(t *testing.T) {
	in := map[string]any{
		"type": "array",
		"value": []any{
			map[string]any{"type": "platformobject", "value": "x"},
			map[string]any{"type": "string", "value": "plain"},
		},
	}
	out := transformDeepSerializedValue(in, "nav-1")
	items := out["value"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "object", first["type"])
	second := items[1].(map[string]any)
	assert.Equal(t, "plain", second["value"])
}

func TestTransformDeepSerializedValueRecursesIntoMapEntryPairs(t *testing.T) {
	in := map[string]any{
		"type": "map",
		"value": []any{
			[]any{"key1", map[string]any{"type": "platformobject", "value": "x"}},
		},
	}
	out := transformDeepSerializedValue(in, "nav-1")
	entries := out["value"].([]any)
	pair := entries[0].([]any)
	assert.Equal(t, "key1", pair[0])
	valueNode := pair[1].(map[string]any)
	assert.Equal(t, "object", valueNode["type"])
}

func attachedContextWithExecutionContext(t *testing.T, evaluateResult map[string]any) (*Context, string, func()) {
	t.Helper()
	c, ctxID, closeConn := attachedContext(t, func(fb *fakeBrowser, m fakeCdpMessage) {
		switch m.Method {
		case "Runtime.evaluate", "Runtime.callFunctionOn":
			fb.reply(m.ID, evaluateResult)
		default:
			fb.reply(m.ID, map[string]any{})
		}
	})
	target, _ := c.targetByID("target-1")
	c.handleExecutionContextCreated(target, rawJSON(t, map[string]any{
		"context": map[string]any{
			"id":     float64(1),
			"origin": "https://example.com",
			"auxData": map[string]any{
				"frameId":   ctxID,
				"isDefault": true,
				"type":      "default",
			},
		},
	}))
	bc := c.Contexts.FindContext(ctxID)
	bc.MarkUnblocked()
	return c, ctxID, closeConn
}

func TestScriptEvaluateReturnsSerializedResult(t *testing.T) {
	c, ctxID, closeConn := attachedContextWithExecutionContext(t, map[string]any{
		"result": map[string]any{
			"type":                "string",
			"deepSerializedValue": map[string]any{"type": "string", "value": "hi"},
		},
	})
	defer closeConn()

	result, err := c.ScriptEvaluate(context.Background(), ctxID, "", "", "1+1", true, "none", nil)
	require.Nil(t, err)
	assert.Equal(t, "success", result["type"])
	want := map[string]any{"type": "string", "value": "hi"}
	if diff := cmp.Diff(want, result["result"]); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestScriptEvaluateSurfacesException(t *testing.T) {
	c, ctxID, closeConn := attachedContextWithExecutionContext(t, map[string]any{
		"exceptionDetails": map[string]any{"text": "ReferenceError: x is not defined"},
	})
	defer closeConn()

	result, err := c.ScriptEvaluate(context.Background(), ctxID, "", "", "x", true, "none", nil)
	require.Nil(t, err)
	assert.Equal(t, "exception", result["type"])
}

func TestScriptEvaluateOwnershipRootRegistersHandle(t *testing.T) {
	c, ctxID, closeConn := attachedContextWithExecutionContext(t, map[string]any{
		"result": map[string]any{"type": "object", "objectId": "obj-1"},
	})
	defer closeConn()

	result, err := c.ScriptEvaluate(context.Background(), ctxID, "", "", "({})", true, "root", nil)
	require.Nil(t, err)
	value := result["result"].(map[string]any)
	assert.Equal(t, "obj-1", value["handle"])

	owner, ok := c.Realms.RealmForHandle("obj-1")
	assert.True(t, ok)
	assert.NotEmpty(t, owner)
}

func TestScriptEvaluateForwardsSerializationOptions(t *testing.T) {
	var gotParams map[string]any
	c, ctxID, closeConn := attachedContext(t, func(fb *fakeBrowser, m fakeCdpMessage) {
		switch m.Method {
		case "Runtime.evaluate":
			require.NoError(t, json.Unmarshal(m.Params, &gotParams))
			fb.reply(m.ID, map[string]any{"result": map[string]any{"type": "undefined"}})
		default:
			fb.reply(m.ID, map[string]any{})
		}
	})
	defer closeConn()
	target, _ := c.targetByID("target-1")
	c.handleExecutionContextCreated(target, rawJSON(t, map[string]any{
		"context": map[string]any{
			"id":      float64(1),
			"origin":  "https://example.com",
			"auxData": map[string]any{"frameId": ctxID, "isDefault": true, "type": "default"},
		},
	}))
	c.Contexts.FindContext(ctxID).MarkUnblocked()

	clientOpts := rawJSON(t, map[string]any{"maxObjectDepth": float64(2), "includeShadowTree": "all"})
	_, err := c.ScriptEvaluate(context.Background(), ctxID, "", "", "1+1", true, "none", clientOpts)
	require.Nil(t, err)

	opts, ok := gotParams["serializationOptions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "deep", opts["serialization"], "client-supplied options still default serialization to deep")
	assert.Equal(t, float64(2), opts["maxObjectDepth"])
	assert.Equal(t, "all", opts["includeShadowTree"])
}

func TestDisownIsIdempotent(t *testing.T) {
	c, ctxID, closeConn := attachedContextWithExecutionContext(t, map[string]any{
		"result": map[string]any{"type": "object", "objectId": "obj-1"},
	})
	defer closeConn()

	_, err := c.ScriptEvaluate(context.Background(), ctxID, "", "", "({})", true, "root", nil)
	require.Nil(t, err)

	derr := c.Disown(ctxID, "", "", []string{"obj-1"})
	assert.Nil(t, derr)
	_, ok := c.Realms.RealmForHandle("obj-1")
	assert.False(t, ok)

	// Disowning again must be a harmless no-op.
	derr = c.Disown(ctxID, "", "", []string{"obj-1"})
	assert.Nil(t, derr)
}
