package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/task"
)

// waitTaskDone polls the task route until the task leaves the queue's
// active states.
func (ts *testServer) waitTaskDone(id string) map[string]interface{} {
	ts.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, env := ts.callJSON("GET", "/api/tasks/"+id, nil)
		require.Equal(ts.t, http.StatusOK, status)
		got := data(ts.t, env)
		switch got["status"] {
		case task.StatusPending, task.StatusRunning:
			time.Sleep(10 * time.Millisecond)
		default:
			return got
		}
	}
	ts.t.Fatalf("task %s did not finish", id)
	return nil
}

func TestProcessTask(t *testing.T) {
	ts := newTestServer(t).bootstrap()
	root := ts.mountLocal("disk", "/files")
	require.NoError(t, os.WriteFile(filepath.Join(root, "pic.png"), pngBytes(t, 64, 64), 0o666))

	status, env := ts.callJSON("POST", "/api/tasks/process", map[string]interface{}{
		"path":           "/files/pic.png",
		"processor_type": "image_watermark",
		"config":         map[string]interface{}{"text": "probe"},
		"save_to":        "/files/out.jpeg",
	})
	require.Equal(t, http.StatusOK, status, "process: %+v", env)
	created := data(t, env)
	id := created["id"].(string)
	require.Len(t, id, 32)
	assert.Equal(t, task.NameProcessFile, created["name"])

	got := ts.waitTaskDone(id)
	require.Equal(t, task.StatusSuccess, got["status"], "task: %+v", got)
	result := got["result"].(map[string]interface{})
	assert.Equal(t, "/files/out.jpeg", result["saved_to"])

	resp := ts.request("GET", "/api/fs/file/files/out.jpeg", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	require.True(t, len(body) > 2)
	assert.Equal(t, []byte{0xff, 0xd8}, body[:2], "output is not a JPEG")

	status, env = ts.callJSON("GET", "/api/tasks", nil)
	require.Equal(t, http.StatusOK, status)
	all := env.Data.([]interface{})
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].(map[string]interface{})["id"])

	// overwrite routes the output over the source path.
	status, env = ts.callJSON("POST", "/api/tasks/process", map[string]interface{}{
		"path":           "/files/pic.png",
		"processor_type": "image_watermark",
		"config":         map[string]interface{}{"text": "probe"},
		"overwrite":      true,
	})
	require.Equal(t, http.StatusOK, status)
	got = ts.waitTaskDone(data(t, env)["id"].(string))
	require.Equal(t, task.StatusSuccess, got["status"], "task: %+v", got)
	assert.Equal(t, "/files/pic.png", got["result"].(map[string]interface{})["saved_to"])

	status, _ = ts.callJSON("POST", "/api/tasks/process", map[string]interface{}{
		"path": "/files/pic.png", "processor_type": "shredder",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.callJSON("POST", "/api/tasks/process", map[string]interface{}{
		"processor_type": "image_watermark",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.callJSON("GET", "/api/tasks/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRuleCRUD(t *testing.T) {
	ts := newTestServer(t).bootstrap()

	status, env := ts.callJSON("POST", "/api/tasks/rules", map[string]interface{}{
		"name":             "thumbs",
		"event":            "file_written",
		"path_pattern":     "/photos/",
		"filename_regex":   `.*\.jpg`,
		"processor_type":   "image_watermark",
		"processor_config": map[string]interface{}{"text": "x"},
	})
	require.Equal(t, http.StatusOK, status, "create: %+v", env)
	rule := data(t, env)
	assert.Equal(t, true, rule["enabled"])
	id := int(rule["id"].(float64))
	require.NotZero(t, id)

	status, _ = ts.callJSON("POST", "/api/tasks/rules", map[string]interface{}{"event": "file_written"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = ts.callJSON("POST", "/api/tasks/rules", map[string]interface{}{"name": "incomplete"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = ts.callJSON("GET", "/api/tasks/rules", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, env.Data.([]interface{}), 1)

	ruleURL := "/api/tasks/rules/" + strconv.Itoa(id)
	status, env = ts.callJSON("GET", ruleURL, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "thumbs", data(t, env)["name"])

	// Partial update touches only the sent fields.
	status, env = ts.callJSON("PUT", ruleURL, map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, status)
	updated := data(t, env)
	assert.Equal(t, false, updated["enabled"])
	assert.Equal(t, "thumbs", updated["name"])
	assert.Equal(t, "/photos/", updated["path_pattern"])

	status, env = ts.callJSON("DELETE", ruleURL, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, data(t, env)["deleted"])
	status, _ = ts.callJSON("DELETE", ruleURL, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = ts.callJSON("GET", ruleURL, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProcessorCatalog(t *testing.T) {
	ts := newTestServer(t).bootstrap()

	status, env := ts.callJSON("GET", "/api/processors", nil)
	require.Equal(t, http.StatusOK, status)
	byType := map[string]map[string]interface{}{}
	for _, item := range env.Data.([]interface{}) {
		p := item.(map[string]interface{})
		byType[p["type"].(string)] = p
	}
	watermark, ok := byType["image_watermark"]
	require.True(t, ok)
	assert.Equal(t, true, watermark["produces_file"])
	assert.Contains(t, watermark["supported_exts"], "jpg")
	index, ok := byType["vector_index"]
	require.True(t, ok)
	assert.Equal(t, false, index["produces_file"])
}

func TestSearchRoute(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t).bootstrap()
	require.NoError(t, ts.store.InsertPath(ctx, "/photos/cat.jpg"))
	require.NoError(t, ts.store.InsertPath(ctx, "/docs/dog.txt"))

	status, env := ts.callJSON("GET", "/api/search?q=cat&mode=filename", nil)
	require.Equal(t, http.StatusOK, status)
	found := data(t, env)
	items := found["items"].([]interface{})
	require.Len(t, items, 1)
	hit := items[0].(map[string]interface{})
	assert.Equal(t, "/photos/cat.jpg", hit["path"])
	assert.Equal(t, "cat", found["query"])

	status, env = ts.callJSON("GET", "/api/search?q=zzz&mode=filename", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, data(t, env)["items"])

	status, env = ts.callJSON("GET", "/api/search?q=cat&mode=psychic", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "invalid search mode", data(t, env)["error"])

	status, _ = ts.callJSON("GET", "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// No embedding provider is configured in tests.
	status, env = ts.callJSON("GET", "/api/search?q=cat&mode=vector", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Msg, "no embedding provider")
}
