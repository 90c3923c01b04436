package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCode(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:          http.StatusBadRequest,
		KindUnauthorized:        http.StatusUnauthorized,
		KindForbidden:           http.StatusForbidden,
		KindNotFound:            http.StatusNotFound,
		KindInsufficientCredits: http.StatusPaymentRequired,
		KindContentSafety:       http.StatusInternalServerError,
		KindInternal:            http.StatusInternalServerError,
		KindProvider:            http.StatusBadGateway,
	}
	for kind, want := range cases {
		if got := StatusCode(kind); got != want {
			t.Errorf("StatusCode(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("stage: %w", Provider("generation failed", base))

	if KindOf(err) != KindProvider {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("cause should be reachable through Unwrap")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("untyped errors should be internal")
	}
}

func TestContentSafetyIsRetryable(t *testing.T) {
	e := ContentSafety("try again", errors.New("SAFETY"))
	if !e.Retryable || e.Kind != KindContentSafety {
		t.Fatalf("unexpected %+v", e)
	}
}

func TestInsufficientCredits(t *testing.T) {
	e := InsufficientCredits(2, 1)
	if e.Required != 2 || e.Available != 1 || StatusCode(e.Kind) != http.StatusPaymentRequired {
		t.Fatalf("unexpected %+v", e)
	}
}
