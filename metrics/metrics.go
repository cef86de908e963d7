package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-harness/types"
)

const (
	MetricsNamespace = "op_harness"
)

var (
	Debug                bool = true
	validResults              = []types.Status{types.StatusPassed, types.StatusFailed}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	testMethodsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_methods_total",
		Help:      "Count of executed test methods",
	}, []string{
		"mode",
		"status",
	})

	commandsRequestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "commands_requested_total",
		Help:      "Count of commands sent to clients",
	}, []string{
		"command",
	})

	commandsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "commands_delivered_total",
		Help:      "Count of command results received before the timeout",
	})

	commandTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "command_timeouts_total",
		Help:      "Count of commands that timed out waiting for a result",
	})

	pendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pending_commands",
		Help:      "Number of commands waiting for a result",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of suite runs",
	}, []string{
		"result",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Count of test methods per suite run result",
	}, []string{
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last suite run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

// RecordError increments the error counter for the given label
func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordTestMethod records one executed test method
func RecordTestMethod(mode types.ExecutionMode, status types.Status) {
	if !isValidResult(status) {
		log.Error("RecordTestMethod - invalid result", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_methods_total",
			"mode", mode,
			"status", status)
	}
	testMethodsTotal.WithLabelValues(string(mode), string(status)).Inc()
}

// RecordCommandRequested records a command emitted to the client
func RecordCommandRequested(cmd types.Command) {
	commandsRequestedTotal.WithLabelValues(string(cmd)).Inc()
}

// RecordCommandDelivered records a command answered in time
func RecordCommandDelivered() {
	commandsDeliveredTotal.Inc()
}

// RecordCommandTimeout records a command that got no answer in time
func RecordCommandTimeout() {
	commandTimeoutsTotal.Inc()
}

// IncPendingCommands increments the pending commands gauge
func IncPendingCommands() {
	pendingCommands.Inc()
}

// DecPendingCommands decrements the pending commands gauge
func DecPendingCommands() {
	pendingCommands.Dec()
}

// RecordRun records the outcome of a harness run
func RecordRun(runID string, result types.Status, passed int, failed int, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordRun - invalid result", "result", result)
		return
	}
	runsTotal.WithLabelValues(string(result)).Inc()
	runTestsTotal.WithLabelValues(string(types.StatusPassed)).Add(float64(passed))
	runTestsTotal.WithLabelValues(string(types.StatusFailed)).Add(float64(failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.Status) bool {
	return slices.Contains(validResults, result)
}
