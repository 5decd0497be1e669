package fs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Typed errors adapters and the facade return. Callers classify them with
// errors.Is so wrapping with context is always safe.
var (
	ErrorNotFound            = errors.New("not found")
	ErrorIsDirectory         = errors.New("is a directory")
	ErrorNotDirectory        = errors.New("not a directory")
	ErrorAlreadyExists       = errors.New("already exists")
	ErrorNotImplemented      = errors.New("optional feature not implemented")
	ErrorInvalidArgument     = errors.New("invalid argument")
	ErrorRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrorExpired             = errors.New("expired")
	ErrorUnauthorized        = errors.New("unauthorized")
	ErrorForbidden           = errors.New("forbidden")
)

// UpstreamError records a non-retryable failure reported by a backend
// service. The original status is kept for logging; routes always map it
// to 502.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("upstream error: status %d", e.Status)
	}
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Detail)
}

// Upstreamf makes an UpstreamError with a formatted detail.
func Upstreamf(status int, format string, args ...interface{}) error {
	return &UpstreamError{Status: status, Detail: fmt.Sprintf(format, args...)}
}

// UpstreamStatus returns the backend HTTP status buried in err, or 0 when
// err carries none. Backends use it to remap statuses with a local meaning
// (404, 412) onto the taxonomy.
func UpstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

// HTTPStatus maps an error from the taxonomy onto the HTTP status the
// routes must answer with. Unknown errors are internal.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ue *UpstreamError
	switch {
	case errors.Is(err, ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrorInvalidArgument),
		errors.Is(err, ErrorIsDirectory),
		errors.Is(err, ErrorNotDirectory):
		return http.StatusBadRequest
	case errors.Is(err, ErrorAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrorRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrorExpired):
		return http.StatusGone
	case errors.Is(err, ErrorNotImplemented):
		return http.StatusNotImplemented
	case errors.As(err, &ue):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
