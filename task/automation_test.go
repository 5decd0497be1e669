package task

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	_ "github.com/qihaolou/Foxel/backend/local"
	"github.com/qihaolou/Foxel/db"
	"github.com/qihaolou/Foxel/processor"
	_ "github.com/qihaolou/Foxel/processor/watermark"
	"github.com/qihaolou/Foxel/vfs"
)

func TestRuleMatches(t *testing.T) {
	for _, test := range []struct {
		pattern string
		regex   string
		path    string
		want    bool
	}{
		{"", "", "/anything/at/all", true},
		{"/photos/", "", "/photos/x.jpg", true},
		{"/photos/", "", "/docs/x.jpg", false},
		{"/photos/", "", "/photos", false},
		{"", `.*\.jpg`, "/photos/x.jpg", true},
		{"", `.*\.jpg`, "/photos/x.png", false},
		{"", `.*\.jpg`, "/photos/x.jpeg", false},
		// The regex is anchored at the start only, python style.
		{"", `.*\.jpg`, "/photos/photo.jpg.bak", true},
		{"", `img`, "/p/imgfile.png", true},
		{"", `img`, "/p/animg.png", false},
		// Alternations are grouped before anchoring.
		{"", `jpg|png`, "/p/doc.txt", false},
		{"", `jpg|png`, "/p/png.doc", true},
		{"/photos/", `.*\.jpg`, "/photos/x.jpg", true},
		{"/photos/", `.*\.jpg`, "/photos/x.png", false},
		{"/photos/", `.*\.jpg`, "/docs/x.jpg", false},
		// A broken regex never matches.
		{"", `(`, "/p/x.jpg", false},
	} {
		rule := &db.AutomationRule{PathPattern: test.pattern, FilenameRegex: test.regex}
		got := ruleMatches(rule, test.path)
		assert.Equal(t, test.want, got, "pattern=%q regex=%q path=%q", test.pattern, test.regex, test.path)
	}
}

type automationEnv struct {
	t   *testing.T
	tmp string
	gdb *gorm.DB
	v   *vfs.VFS
	q   *Queue
}

func newAutomationEnv(t *testing.T) *automationEnv {
	tmp := t.TempDir()
	gdb, err := db.Open(filepath.Join(tmp, "foxel.db"))
	require.NoError(t, err)
	v := vfs.New(gdb, vfs.NewRegistry(gdb), &processor.Deps{})
	e := &automationEnv{t: t, tmp: tmp, gdb: gdb, v: v, q: New()}
	e.q.RegisterHandler(NameAutomation, AutomationHandler(gdb, v))
	v.OnEvent(NewAutomation(gdb, e.q).HandleEvent)
	return e
}

func (e *automationEnv) mountLocal(name, mountPath string) {
	root := filepath.Join(e.tmp, "roots", name)
	require.NoError(e.t, os.MkdirAll(root, 0o777))
	rec := &db.StorageAdapter{
		Name:    name,
		Type:    "local",
		Config:  db.JSONMap{"root": root},
		Enabled: true,
		Path:    mountPath,
	}
	require.NoError(e.t, e.gdb.Create(rec).Error)
	e.v.Registry().Upsert(context.Background(), rec)
}

func (e *automationEnv) addRule(rule *db.AutomationRule) *db.AutomationRule {
	require.NoError(e.t, e.gdb.Create(rule).Error)
	return rule
}

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 160, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestHandleEventEnqueuesPerMatch(t *testing.T) {
	ctx := context.Background()
	e := newAutomationEnv(t)

	first := e.addRule(&db.AutomationRule{
		Name: "jpegs", Event: vfs.EventFileWritten,
		PathPattern: "/photos/", FilenameRegex: `.*\.jpg`,
		ProcessorType: "image_watermark", Enabled: true,
	})
	second := e.addRule(&db.AutomationRule{
		Name: "everything in photos", Event: vfs.EventFileWritten,
		PathPattern:   "/photos/",
		ProcessorType: "vector_index", Enabled: true,
	})
	e.addRule(&db.AutomationRule{
		Name: "disabled", Event: vfs.EventFileWritten,
		PathPattern: "/photos/", ProcessorType: "image_watermark",
	})
	e.addRule(&db.AutomationRule{
		Name: "deletes only", Event: vfs.EventFileDeleted,
		PathPattern: "/photos/", ProcessorType: "image_watermark", Enabled: true,
	})

	// The worker is not started, so enqueued tasks stay pending for
	// inspection.
	auto := NewAutomation(e.gdb, e.q)
	auto.HandleEvent(ctx, vfs.EventFileWritten, "/photos/x.jpg")

	all := e.q.All()
	require.Len(t, all, 2)
	var ruleIDs []uint
	for _, task := range all {
		assert.Equal(t, NameAutomation, task.Name)
		assert.Equal(t, StatusPending, task.Status)
		assert.Equal(t, "/photos/x.jpg", task.TaskInfo["path"])
		ruleIDs = append(ruleIDs, task.TaskInfo["rule_id"].(uint))
	}
	assert.ElementsMatch(t, []uint{first.ID, second.ID}, ruleIDs)

	auto.HandleEvent(ctx, vfs.EventFileWritten, "/docs/x.jpg")
	assert.Len(t, e.q.All(), 2)
}

func TestAutomationPipeline(t *testing.T) {
	ctx := context.Background()
	e := newAutomationEnv(t)
	e.mountLocal("photos", "/photos")
	e.mountLocal("docs", "/docs")

	e.addRule(&db.AutomationRule{
		Name:          "watermark jpegs",
		Event:         vfs.EventFileWritten,
		PathPattern:   "/photos/",
		FilenameRegex: `.*\.jpg`,
		ProcessorType: "image_watermark",
		ProcessorConfig: db.JSONMap{
			"text":    "probe",
			"save_to": "/photos/marked/x.jpeg",
		},
		Enabled: true,
	})

	e.q.Start()
	defer e.q.Stop()

	require.NoError(t, e.v.Write(ctx, "/photos/x.jpg", tinyJPEG(t)))
	all := e.q.All()
	require.Len(t, all, 1)

	got := waitStatus(t, e.q, all[0].ID, StatusSuccess)
	assert.Equal(t, "Automation task completed", got.Result)
	assert.Empty(t, got.Error)

	marked, err := e.v.Read(ctx, "/photos/marked/x.jpeg")
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(marked))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 32, img.Bounds().Dx())

	// Wrong extension and wrong prefix trigger nothing, and the saved
	// output did not re-trigger the rule.
	require.NoError(t, e.v.Write(ctx, "/photos/x.png", tinyJPEG(t)))
	require.NoError(t, e.v.Write(ctx, "/docs/x.jpg", tinyJPEG(t)))
	assert.Len(t, e.q.All(), 1)
}

func TestAutomationTaskFailsOnMissingRule(t *testing.T) {
	e := newAutomationEnv(t)
	e.q.Start()
	defer e.q.Stop()

	queued := e.q.Enqueue(NameAutomation, map[string]interface{}{
		"rule_id": float64(4242),
		"path":    "/photos/x.jpg",
	})
	got := waitStatus(t, e.q, queued.ID, StatusFailed)
	assert.Contains(t, got.Error, "automation rule 4242 not found")
}

func TestAutomationTaskValidatesInfo(t *testing.T) {
	e := newAutomationEnv(t)
	e.q.Start()
	defer e.q.Stop()

	got := waitStatus(t, e.q, e.q.Enqueue(NameAutomation, map[string]interface{}{"path": "/x"}).ID, StatusFailed)
	assert.Contains(t, got.Error, `missing "rule_id"`)

	got = waitStatus(t, e.q, e.q.Enqueue(NameAutomation, map[string]interface{}{"rule_id": uint(1)}).ID, StatusFailed)
	assert.Contains(t, got.Error, `missing "path"`)
}

func TestProcessFileTask(t *testing.T) {
	ctx := context.Background()
	e := newAutomationEnv(t)
	e.mountLocal("photos", "/photos")
	e.q.RegisterHandler(NameProcessFile, ProcessFileHandler(e.v))
	e.q.Start()
	defer e.q.Stop()

	require.NoError(t, e.v.Write(ctx, "/photos/in.jpg", tinyJPEG(t)))
	queued := e.q.Enqueue(NameProcessFile, map[string]interface{}{
		"path":           "/photos/in.jpg",
		"processor_type": "image_watermark",
		"config":         map[string]interface{}{"text": "probe"},
		"save_to":        "/photos/out.jpeg",
	})
	got := waitStatus(t, e.q, queued.ID, StatusSuccess)

	result, ok := got.Result.(*processor.Result)
	require.True(t, ok)
	assert.Equal(t, "/photos/out.jpeg", result.SavedTo)
	data, err := e.v.Read(ctx, "/photos/out.jpeg")
	require.NoError(t, err)
	assert.Equal(t, result.Data, data)
}
