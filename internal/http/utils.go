package http

import (
	"errors"
	"net/http"

	"github.com/loomworks/loom/backend/internal/types"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch types.ReasonOf(err) {
	case types.ReasonNotFound, types.ReasonPathNotFound:
		return http.StatusNotFound
	case types.ReasonRateLimited:
		return http.StatusTooManyRequests
	case types.ReasonPopulationLimit:
		return http.StatusInsufficientStorage
	case types.ReasonDuplicateProject, types.ReasonPathChanged:
		return http.StatusConflict
	case types.ReasonDenied:
		return http.StatusForbidden
	}

	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindIntegrity:
		return http.StatusConflict
	case types.KindPath:
		return http.StatusBadRequest
	case types.KindCapacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func asTagged(err error, target **types.Error) bool {
	return errors.As(err, target)
}
