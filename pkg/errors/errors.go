// Package errors provides the error and warning system used across the
// library. It is inspired by scikit-learn's exception hierarchy and wraps
// github.com/cockroachdb/errors so every constructed error carries a stack
// trace and supports structured logging via zerolog.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================

var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("scisearch-warning: %v\n", w)
	}
	// zerolog sink, installed lazily to avoid an import cycle with pkg/log.
	zerologWarnFunc func(warning error)
)

// SetWarningHandler installs a custom handler for warnings raised by the
// library, e.g. to silence FitFailedWarning during a large search.
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc routes warnings through a zerolog-backed function.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn raises a warning. When a zerolog sink is installed it takes
// precedence over the plain handler.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// FitFailedWarning is raised when a single fit-evaluate task fails and a
// numeric error score is configured, so the failure is absorbed into the
// search results instead of aborting it.
type FitFailedWarning struct {
	Candidate  int
	Split      int
	ErrorScore float64
	Err        error
}

func (w *FitFailedWarning) Error() string {
	return fmt.Sprintf("fit failed for candidate %d on split %d, assigning score %g: %v",
		w.Candidate, w.Split, w.ErrorScore, w.Err)
}

func (w *FitFailedWarning) Unwrap() error {
	return w.Err
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *FitFailedWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Int("candidate", w.Candidate).
		Int("split", w.Split).
		Float64("error_score", w.ErrorScore).
		AnErr("cause", w.Err).
		Str("type", "FitFailedWarning")
}

// NewFitFailedWarning creates a new FitFailedWarning.
func NewFitFailedWarning(candidate, split int, errorScore float64, err error) *FitFailedWarning {
	return &FitFailedWarning{Candidate: candidate, Split: split, ErrorScore: errorScore, Err: err}
}

// UndefinedMetricWarning is raised when a metric is ill-defined for the given
// inputs (e.g. ROC-AUC with a single class present) and a fallback is used.
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("%s is ill-defined (%s), returning %g", w.Metric, w.Condition, w.Result)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning creates a new UndefinedMetricWarning.
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// ===========================================================================
//
//	Error types
//
// ===========================================================================

// NotFittedError is returned when a method requiring a fitted model is
// called before Fit.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("scisearch: %s: this instance is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a NotFittedError with a stack trace attached.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError is returned when input data does not have the expected
// shape.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("scisearch: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace attached.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValidationError is returned when a configuration parameter fails
// validation. Configuration errors surface before any task is dispatched.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scisearch: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError creates a ValidationError with a stack trace attached.
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// ValueError is returned when an argument has an inappropriate value.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("scisearch: %s: %s", e.Op, e.Message)
}

// NewValueError creates a ValueError with a stack trace attached.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// InvariantError indicates an internal invariant violation, e.g. no rank-1
// candidate after reduction. It is never recovered from.
type InvariantError struct {
	Op        string
	Invariant string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("scisearch: %s: internal invariant violated: %s", e.Op, e.Invariant)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *InvariantError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("invariant", e.Invariant).
		Str("type", "InvariantError")
}

// NewInvariantError creates an InvariantError with a stack trace attached.
func NewInvariantError(op, invariant string) error {
	err := &InvariantError{Op: op, Invariant: invariant}
	return errors.WithStack(err)
}

// ModelError is a general error raised during model fitting or prediction.
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scisearch: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("scisearch: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError creates a ModelError with a stack trace attached.
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}
