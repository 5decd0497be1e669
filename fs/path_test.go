package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a", "/a"},
		{"/a/", "/a"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/../b", "/b"},
		{"/../..", "/"},
		{"  /a ", "/a"},
		{"/photos/2024/x.jpg", "/photos/2024/x.jpg"},
	} {
		assert.Equal(t, test.want, NormalizePath(test.in), "in=%q", test.in)
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "", BaseName("/"))
	assert.Equal(t, "x.jpg", BaseName("/photos/x.jpg"))
	assert.Equal(t, "photos", BaseName("/photos/"))
}
