package fs

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	for _, test := range []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrorNotFound, http.StatusNotFound},
		{errors.Wrap(ErrorNotFound, "stat /a/b"), http.StatusNotFound},
		{ErrorInvalidArgument, http.StatusBadRequest},
		{ErrorIsDirectory, http.StatusBadRequest},
		{ErrorNotDirectory, http.StatusBadRequest},
		{ErrorAlreadyExists, http.StatusConflict},
		{ErrorRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable},
		{ErrorUnauthorized, http.StatusUnauthorized},
		{ErrorForbidden, http.StatusForbidden},
		{ErrorExpired, http.StatusGone},
		{ErrorNotImplemented, http.StatusNotImplemented},
		{Upstreamf(503, "backend down"), http.StatusBadGateway},
		{errors.Wrap(Upstreamf(500, "x"), "reading"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		assert.Equal(t, test.want, HTTPStatus(test.err), "err=%v", test.err)
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	err := Upstreamf(502, "PROPFIND failed")
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "PROPFIND failed")

	var ue *UpstreamError
	assert.True(t, errors.As(err, &ue))
	assert.Equal(t, 502, ue.Status)
}
