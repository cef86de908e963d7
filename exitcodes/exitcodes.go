// Package exitcodes defines the exit codes used by op-harness.
//
// * Success (0): every invoked test method passed
// * TestFailure (1): one or more test methods failed
// * RuntimeErr (2): configuration, transport or deployment errors
package exitcodes

const (
	// Success means every invoked test method passed
	Success     = 0
	// TestFailure means at least one test method failed
	TestFailure = 1
	// RuntimeErr means the run could not be completed
	RuntimeErr  = 2
)
