package errors

import (
	"errors"
	"testing"
)

func TestWrapKeepsChain(t *testing.T) {
	if Wrap(nil, "opening store") != nil {
		t.Error("Expected Wrap(nil) to be nil")
	}
	if Wrapf(nil, "opening input %s", "x") != nil {
		t.Error("Expected Wrapf(nil) to be nil")
	}

	err := Wrapf(ErrDataNotFound, "opening input %s", "snaps.jsonl")
	if err.Error() != "opening input snaps.jsonl: data not found" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrDataNotFound) {
		t.Error("Expected wrapped sentinel to match")
	}

	inner := NewDataError("snapshot", "s1", "bad strikes", ErrInsufficientData)
	var dataErr *DataError
	if !errors.As(Wrap(inner, "replay"), &dataErr) || dataErr.Ref != "s1" {
		t.Errorf("Expected DataError through Wrap, got %v", dataErr)
	}
	if !errors.Is(inner, ErrInsufficientData) {
		t.Error("Expected DataError to unwrap to its cause")
	}
}
