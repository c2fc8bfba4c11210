package domain

// GateOutcome is the pass/fail decision for a CoverageResult.
type GateOutcome string

const (
	GatePass GateOutcome = "PASS"
	GateFail GateOutcome = "FAIL"
)

// Passed reports whether the outcome is GatePass.
func (o GateOutcome) Passed() bool {
	return o == GatePass
}

// Evaluate applies the coverage gate. The result passes only when its
// percentage is strictly greater than threshold; a result exactly at the
// threshold fails.
func Evaluate(result CoverageResult, threshold float64) GateOutcome {
	if result.Percentage() > threshold {
		return GatePass
	}
	return GateFail
}

// ReportVerdict is the result field of a published check report.
type ReportVerdict string

const (
	VerdictPassed ReportVerdict = "PASSED"
	VerdictFailed ReportVerdict = "FAILED"
)

// VerdictFor decides the verdict shown on a published report. A report at
// or below failAtOrBelow is FAILED. This cut-off is configured separately
// from the gate threshold.
func VerdictFor(percentage, failAtOrBelow float64) ReportVerdict {
	if percentage <= failAtOrBelow {
		return VerdictFailed
	}
	return VerdictPassed
}
