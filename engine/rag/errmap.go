package rag

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/civicrag/civicrag/engine/domain"
)

// Error kinds exposed to callers. This is the closed taxonomy; anything
// the pipeline produces maps onto exactly one of these.
const (
	KindAuthDenied        = "auth_denied"
	KindValidationError   = "validation_error"
	KindRetrievalTimeout  = "retrieval_timeout"
	KindRetrievalFailure  = "retrieval_failure"
	KindGenerationTimeout = "generation_timeout"
	KindGenerationFailure = "generation_failure"
	KindInternal          = "internal"
)

// MapError translates an internal failure into its kind, HTTP status, and
// a user-safe message. It is total: unrecognized errors become internal
// errors. Upstream diagnostic detail never reaches the returned message;
// it stays in server-side logs only.
func MapError(err error) (kind string, status int, message string) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrAuthDenied):
		return KindAuthDenied, http.StatusUnauthorized, "invalid or missing API key"
	case errors.As(err, &ve):
		return KindValidationError, http.StatusBadRequest, fmt.Sprintf("%s: %s", ve.Field, ve.Wrapped)
	case errors.Is(err, domain.ErrInvalidQuery):
		return KindValidationError, http.StatusBadRequest, "invalid query"
	case errors.Is(err, domain.ErrRetrievalTimeout):
		return KindRetrievalTimeout, http.StatusGatewayTimeout, "document retrieval timed out, please try again"
	case errors.Is(err, domain.ErrRetrievalFailure):
		return KindRetrievalFailure, http.StatusBadGateway, "document retrieval is temporarily unavailable"
	case errors.Is(err, domain.ErrGenerationTimeout):
		return KindGenerationTimeout, http.StatusGatewayTimeout, "answer generation timed out, please try again"
	case errors.Is(err, domain.ErrGenerationFailure):
		return KindGenerationFailure, http.StatusBadGateway, "answer generation is temporarily unavailable"
	default:
		return KindInternal, http.StatusInternalServerError, "internal server error"
	}
}
