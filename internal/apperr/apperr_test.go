package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := NotFound("ratings.update", "log_missing", "rating not found")
	wrapped := fmt.Errorf("outer: %w", err)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(wrapped, ErrForbidden) {
		t.Fatalf("did not expect match against ErrForbidden")
	}
	if err.Code() != "ratings.update.log_missing" {
		t.Fatalf("unexpected code %q", err.Code())
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if kind := KindOf(errors.New("boom")); kind != KindInternal {
		t.Fatalf("expected internal kind, got %s", kind)
	}
	if kind := KindOf(Conflict("op", "dup", "")); kind != KindConflict {
		t.Fatalf("expected conflict kind, got %s", kind)
	}
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:          http.StatusBadRequest,
		KindNotFound:            http.StatusNotFound,
		KindForbidden:           http.StatusForbidden,
		KindConflict:            http.StatusConflict,
		KindCapacityExceeded:    http.StatusConflict,
		KindUpstreamUnavailable: http.StatusServiceUnavailable,
		KindUnauthorized:        http.StatusUnauthorized,
		KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestInternalHidesCauseFromMessage(t *testing.T) {
	err := Internal("albums.recompute", "query_failed", errors.New("disk I/O error"))
	if err.Message() != string(KindInternal) {
		t.Fatalf("expected generic message, got %q", err.Message())
	}
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal sentinel match")
	}
}
