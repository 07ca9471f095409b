package errs

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/m-mizutani/goerr/v2"
)

func TestClassification(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("node missing", goerr.V("id", "a")), IsNotFound},
		{"conflict", Conflict("type differs"), IsConflict},
		{"dimension", Dimension("bad width", 3, 4), IsDimension},
		{"range", Range("alpha"), IsRange},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.check(tc.err) {
				t.Errorf("expected %q to be classified", tc.err)
			}
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !tc.check(wrapped) {
				t.Errorf("expected wrapped %q to be classified", wrapped)
			}
		})
	}

	if IsNotFound(Conflict("x")) {
		t.Error("conflict must not classify as not found")
	}
	if IsRange(errors.New("plain")) {
		t.Error("plain error must not classify as range")
	}
}

func TestUnit(t *testing.T) {
	for _, v := range []float64{0, 0.25, 1} {
		if err := Unit("alpha", v); err != nil {
			t.Errorf("expected %v to be accepted, got %v", v, err)
		}
	}
	for _, v := range []float64{-0.01, 1.5, math.NaN()} {
		if err := Unit("alpha", v); !IsRange(err) {
			t.Errorf("expected range error for %v, got %v", v, err)
		}
	}
}
