package fs

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdapter struct {
	Unimplemented
	name string
}

func (a *testAdapter) Name() string                    { return a.name }
func (a *testAdapter) Type() string                    { return "test" }
func (a *testAdapter) ResolveRoot(subPath string) string { return subPath }

func testRegInfo() *RegInfo {
	return &RegInfo{
		Name:        "test",
		Description: "Test backend",
		NewAdapter: func(ctx context.Context, name string, config ConfigMap) (Adapter, error) {
			return &testAdapter{name: name}, nil
		},
		Options: Options{{
			Key:      "root",
			Label:    "Root",
			Type:     TypeString,
			Required: true,
		}, {
			Key:     "timeout",
			Label:   "Timeout",
			Type:    TypeNumber,
			Default: 15,
		}},
	}
}

func TestRegisterFind(t *testing.T) {
	saved := Registry
	defer func() { Registry = saved }()
	Registry = nil

	Register(testRegInfo())
	info, err := Find("test")
	require.NoError(t, err)
	assert.Equal(t, "test", info.Name)

	_, err = Find("nope")
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	ri := testRegInfo()

	out, err := ri.ValidateConfig(ConfigMap{"root": "/srv"})
	require.NoError(t, err)
	assert.Equal(t, "/srv", out.String("root"))
	assert.Equal(t, 15, out.Int("timeout", 0))

	_, err = ri.ValidateConfig(ConfigMap{})
	assert.True(t, errors.Is(err, ErrorInvalidArgument))

	// Input map is not mutated.
	in := ConfigMap{"root": "/srv"}
	_, err = ri.ValidateConfig(in)
	require.NoError(t, err)
	_, present := in["timeout"]
	assert.False(t, present)
}

func TestConfigMapGetters(t *testing.T) {
	m := ConfigMap{
		"s":     "text",
		"n":     float64(42),
		"nstr":  "7",
		"b":     true,
		"bstr":  "true",
		"bnum":  float64(1),
		"empty": nil,
	}
	assert.Equal(t, "text", m.String("s"))
	assert.Equal(t, "42", m.String("n"))
	assert.Equal(t, "", m.String("missing"))
	assert.Equal(t, 42, m.Int("n", 0))
	assert.Equal(t, 7, m.Int("nstr", 0))
	assert.Equal(t, 9, m.Int("missing", 9))
	assert.True(t, m.Bool("b"))
	assert.True(t, m.Bool("bstr"))
	assert.True(t, m.Bool("bnum"))
	assert.False(t, m.Bool("empty"))
	assert.False(t, m.Bool("missing"))

	// Unimplemented stubs report the sentinel.
	a := &testAdapter{name: "t"}
	_, err := a.Read(context.Background(), "", "x")
	assert.True(t, errors.Is(err, ErrorNotImplemented))
}
