package client

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"MarketChat/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorMapsBackToCodes(t *testing.T) {
	cases := []struct {
		status int
		body   string
		target error
	}{
		{http.StatusUnauthorized, `{"error":"jwt expired"}`, errs.ErrAuthExpired},
		{http.StatusForbidden, `{"error":"Invalid token!"}`, errs.ErrAuthInvalid},
		{http.StatusForbidden, `{"error":"not a participant","code":1003}`, errs.ErrForbidden},
		{http.StatusNotFound, `{"error":"User not found!"}`, errs.ErrNotFound},
		{http.StatusUnprocessableEntity, `garbage`, errs.ErrInvalidArgument},
	}
	for _, tc := range cases {
		resp := &http.Response{StatusCode: tc.status, Body: io.NopCloser(strings.NewReader(tc.body))}
		err := readAPIError(resp)
		assert.True(t, errors.Is(err, tc.target), "%d %s", tc.status, tc.body)
	}

	expired := readAPIError(&http.Response{StatusCode: 401, Body: io.NopCloser(strings.NewReader(`{"error":"jwt expired"}`))})
	assert.True(t, expired.Expired())
	assert.True(t, errors.Is(expired, errs.ErrUnauthorized), "expired is a kind of unauthorized")

	bare := readAPIError(&http.Response{StatusCode: 503})
	assert.Equal(t, http.StatusText(503), bare.Message)
	assert.False(t, bare.Expired())
}
