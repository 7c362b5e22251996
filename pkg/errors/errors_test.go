package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("row lock timeout")
	err := Wrap(CodeDependency, cause, "reserve stock")

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be preserved")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	inner := New(CodeInsufficientStock, "not enough units")
	wrapped := fmt.Errorf("attempt vendor: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeInsufficientStock {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNoVendor, "candidates exhausted"))
	if !IsCode(err, CodeNoVendor) {
		t.Fatal("expected IsCode to match through wrapping")
	}
	if IsCode(err, CodeInsufficientStock) {
		t.Fatal("expected IsCode mismatch for other code")
	}
	if IsCode(nil, CodeNoVendor) {
		t.Fatal("expected IsCode false for nil error")
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal metadata, got %d", meta.HTTPStatus)
	}
}

func TestDomainCodeMetadata(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeInsufficientStock, http.StatusConflict},
		{CodeNoVendor, http.StatusConflict},
		{CodeReservedMismatch, http.StatusInternalServerError},
		{CodeSLAExpired, http.StatusUnprocessableEntity},
		{CodeStateConflict, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}
