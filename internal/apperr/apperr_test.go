package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{Upstream, http.StatusBadGateway},
		{Canceled, 499},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.kind); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NotFound, "session missing", cause)

	if !Is(err, NotFound) {
		t.Error("expected Is(err, NotFound) to be true")
	}
	if Is(err, Internal) {
		t.Error("expected Is(err, Internal) to be false")
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
	if KindOf(err) != NotFound {
		t.Errorf("KindOf = %s, want NotFound", KindOf(err))
	}
}

func TestKindOfUntypedError(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Error("expected untyped errors to default to Internal")
	}
}
