package httperr_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/httperr"
)

func TestStatusByKind(t *testing.T) {
	cases := map[*httperr.Error]int{
		httperr.Auth("NoSignature"):                      http.StatusUnauthorized,
		httperr.Forbidden("NotAMember"):                  http.StatusForbidden,
		httperr.NotFound("RingNotFound"):                 http.StatusNotFound,
		httperr.Conflict("SlugTaken"):                    http.StatusConflict,
		httperr.Validation("MissingName"):                http.StatusBadRequest,
		httperr.Policy("RingClosed"):                     http.StatusForbidden,
		httperr.Internal("Internal"):                     http.StatusInternalServerError,
		httperr.RateLimited("QuotaExceeded", 30, "hour"): http.StatusTooManyRequests,
	}
	for e, want := range cases {
		assert.Equal(t, want, e.Status(), e.Tag)
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	bare := httperr.NotFound("RingNotFound")
	assert.Equal(t, "RingNotFound", bare.Error())

	withMsg := httperr.Validation("MissingName", httperr.WithMessage("name is required"))
	assert.Equal(t, "MissingName: name is required", withMsg.Error())
}

func TestAsWrapsPlainErrorsAsInternal(t *testing.T) {
	wrapped := httperr.As(errors.New("boom"))
	assert.Equal(t, httperr.KindInternal, wrapped.Kind)
	assert.Equal(t, "boom", wrapped.Message)

	passthrough := httperr.NotFound("RingNotFound")
	assert.Same(t, passthrough, httperr.As(passthrough))

	assert.Nil(t, httperr.As(nil))
}

func TestRateLimitedSetsRetryAfterAndWindow(t *testing.T) {
	e := httperr.RateLimited("QuotaExceeded", 60, "hour")
	assert.Equal(t, 60, e.RetryAfter)
	assert.Equal(t, "hour", e.Window)
}

func TestWriteEncodesJSONAndRetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	httperr.Write(w, httperr.RateLimited("QuotaExceeded", 45, "hour", httperr.WithMessage("too many forks")))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "QuotaExceeded", body["error"])
	assert.Equal(t, "too many forks", body["message"])
}

func TestWriteErrUsesAsFallback(t *testing.T) {
	w := httptest.NewRecorder()
	httperr.WriteErr(w, errors.New("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
