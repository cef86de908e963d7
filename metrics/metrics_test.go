package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
	RecordErrorDetails("label", errors.New("some error"))
	RecordErrorDetails("label", nil)
}

func TestRecordTestMethod(t *testing.T) {
	before := testutil.ToFloat64(testMethodsTotal.WithLabelValues("REMOTE", "PASSED"))
	RecordTestMethod(types.ExecutionRemote, types.StatusPassed)
	assert.Equal(t, before+1, testutil.ToFloat64(testMethodsTotal.WithLabelValues("REMOTE", "PASSED")))

	// Invalid statuses are dropped.
	RecordTestMethod(types.ExecutionRemote, types.Status("SKIPPED"))
	assert.Equal(t, before+1, testutil.ToFloat64(testMethodsTotal.WithLabelValues("REMOTE", "PASSED")))
}

func TestPendingCommandsGauge(t *testing.T) {
	before := testutil.ToFloat64(pendingCommands)
	IncPendingCommands()
	IncPendingCommands()
	DecPendingCommands()
	assert.Equal(t, before+1, testutil.ToFloat64(pendingCommands))
	DecPendingCommands()
}

func TestRecordRun(t *testing.T) {
	RecordRun("run-1", types.StatusFailed, 3, 1, 1500*time.Millisecond)
	assert.Equal(t, 1.5, testutil.ToFloat64(runDuration.WithLabelValues("run-1")))
}
