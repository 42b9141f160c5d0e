package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestWarningHandler(t *testing.T) {
	var captured []error
	SetWarningHandler(func(w error) { captured = append(captured, w) })
	defer SetWarningHandler(nil)

	warning := NewFitFailedWarning(3, 1, 0.0, fmt.Errorf("singular matrix"))
	Warn(warning)

	if len(captured) != 1 {
		t.Fatalf("expected 1 captured warning, got %d", len(captured))
	}

	var ffw *FitFailedWarning
	if !As(captured[0], &ffw) {
		t.Fatal("warning should be castable to *FitFailedWarning")
	}
	if ffw.Candidate != 3 || ffw.Split != 1 {
		t.Errorf("unexpected warning fields: %+v", ffw)
	}
	if !strings.Contains(ffw.Error(), "candidate 3") {
		t.Errorf("unexpected message: %s", ffw.Error())
	}
}

func TestZerologWarnFuncTakesPrecedence(t *testing.T) {
	var plain, sink int
	SetWarningHandler(func(w error) { plain++ })
	SetZerologWarnFunc(func(w error) { sink++ })
	defer func() {
		SetWarningHandler(nil)
		SetZerologWarnFunc(nil)
	}()

	Warn(NewUndefinedMetricWarning("ROCAUC", "only one class present", 0.5))

	if sink != 1 || plain != 0 {
		t.Errorf("expected the zerolog sink to handle the warning, got sink=%d plain=%d", sink, plain)
	}
}

func TestNotFittedError(t *testing.T) {
	err := NewNotFittedError("SearchCV", "Predict")

	var nfe *NotFittedError
	if !As(err, &nfe) {
		t.Fatal("error should be castable to *NotFittedError")
	}
	if !strings.Contains(err.Error(), "Call Fit() before using Predict()") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	// Constructed errors carry a stack trace.
	if !strings.Contains(fmt.Sprintf("%+v", err), "errors_test.go") {
		t.Error("expected stack trace to contain test file name")
	}
}

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "dimension error",
			err:  NewDimensionError("Fit", 10, 8, 0),
			want: "Expected 10, got 8",
		},
		{
			name: "validation error",
			err:  NewValidationError("scoring", "unknown scoring name", "bogus"),
			want: "scoring",
		},
		{
			name: "value error",
			err:  NewValueError("Reduce", "nSplits must be at least 1"),
			want: "nSplits",
		},
		{
			name: "invariant error",
			err:  NewInvariantError("Reduce", "exactly one retained candidate holds rank 1"),
			want: "rank 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.err.Error(), tt.want) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestWrapPreservesIdentity(t *testing.T) {
	base := New("backend unavailable")
	wrapped := Wrap(base, "running search")

	if !Is(wrapped, base) {
		t.Error("wrapped error should match the base error with Is")
	}
	if !strings.Contains(wrapped.Error(), "running search") {
		t.Errorf("wrap message missing: %s", wrapped.Error())
	}
}

func TestSafeExecuteRecoversPanic(t *testing.T) {
	err := SafeExecute("FitAndScore", func() error {
		panic("index out of range")
	})
	if err == nil {
		t.Fatal("expected an error from the recovered panic")
	}

	var pe *PanicError
	if !As(err, &pe) {
		t.Fatalf("expected a *PanicError, got %T", err)
	}
	if pe.Operation != "FitAndScore" {
		t.Errorf("unexpected operation: %s", pe.Operation)
	}
	if len(pe.Stack) == 0 {
		t.Error("expected a captured stack")
	}
}

func TestSafeExecutePassesThroughErrors(t *testing.T) {
	base := New("plain failure")
	err := SafeExecute("op", func() error { return base })
	if !Is(err, base) {
		t.Error("non-panic errors should pass through unchanged")
	}

	if err := SafeExecute("op", func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
