package types

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Status is the outcome of a single test method invocation.
type Status string

const (
	StatusPassed Status = "PASSED"
	StatusFailed Status = "FAILED"
)

// Failure is the portable form of an error raised while running a test
// method. It survives both the CBOR and JSON encodings; the concrete Go type
// of the original error is kept as text only.
type Failure struct {
	Type    string   `json:"type" cbor:"1,keyasint"`
	Message string   `json:"message" cbor:"2,keyasint"`
	Stack   string   `json:"stack,omitempty" cbor:"3,keyasint,omitempty"`
	Cause   *Failure `json:"cause,omitempty" cbor:"4,keyasint,omitempty"`
}

func (f *Failure) Error() string {
	if f.Type == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Type, f.Message)
}

func (f *Failure) Unwrap() error {
	if f.Cause == nil {
		return nil
	}
	return f.Cause
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// typeNamer lets an error choose the name recorded in Failure.Type.
type typeNamer interface {
	FailureType() string
}

// FailureFromError converts err and its wrap chain into a Failure.
func FailureFromError(err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		return f
	}
	// errors.WithStack adds a trace without changing the message; report the
	// wrapped error under its own type.
	if st, ok := err.(stackTracer); ok {
		if cause := errors.Unwrap(err); cause != nil && cause.Error() == err.Error() {
			f := *FailureFromError(cause)
			if f.Stack == "" {
				f.Stack = fmt.Sprintf("%+v", st.StackTrace())
			}
			return &f
		}
	}
	out := &Failure{
		Type:    typeName(err),
		Message: err.Error(),
	}
	if st, ok := err.(stackTracer); ok {
		out.Stack = fmt.Sprintf("%+v", st.StackTrace())
	} else if s, ok := err.(interface{ StackText() string }); ok {
		out.Stack = s.StackText()
	}
	if cause := errors.Unwrap(err); cause != nil {
		out.Cause = FailureFromError(cause)
		if out.Stack == "" && out.Cause != nil {
			out.Stack = out.Cause.Stack
		}
	}
	return out
}

func typeName(err error) string {
	if n, ok := err.(typeNamer); ok {
		return n.FailureType()
	}
	return fmt.Sprintf("%T", err)
}

// TestResult is the outcome of one test method invocation.
type TestResult struct {
	Status  Status    `json:"status" cbor:"1,keyasint"`
	Failure *Failure  `json:"failure,omitempty" cbor:"2,keyasint,omitempty"`
	Start   time.Time `json:"start" cbor:"3,keyasint"`
	End     time.Time `json:"end" cbor:"4,keyasint"`
}

// NewTestResult returns a passing result whose start time is now.
func NewTestResult() *TestResult {
	return &TestResult{
		Status: StatusPassed,
		Start:  time.Now(),
	}
}

// NewFailedResult returns a result that failed with err, started now.
func NewFailedResult(err error) *TestResult {
	return NewTestResult().Failed(err)
}

// Passed marks the result as passed
func (r *TestResult) Passed() *TestResult {
	r.Status = StatusPassed
	r.Failure = nil
	return r
}

// Failed marks the result as failed. A nil err still fails the result with
// an unknown failure so that Failure is always set on a FAILED result.
func (r *TestResult) Failed(err error) *TestResult {
	r.Status = StatusFailed
	r.Failure = FailureFromError(err)
	if r.Failure == nil {
		r.Failure = &Failure{Type: "unknown", Message: "test failed without a cause"}
	}
	return r
}

// SetEnd stamps the end time with the current wall clock.
func (r *TestResult) SetEnd() *TestResult {
	r.End = time.Now()
	return r
}

// Duration returns the time between start and end
func (r *TestResult) Duration() time.Duration {
	if r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// IsPassed reports whether the method passed
func (r *TestResult) IsPassed() bool {
	return r.Status == StatusPassed
}

func (r *TestResult) String() string {
	if r.Failure != nil {
		return fmt.Sprintf("%s (%s): %s", r.Status, r.Duration(), r.Failure.Error())
	}
	return fmt.Sprintf("%s (%s)", r.Status, r.Duration())
}
