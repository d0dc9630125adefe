package domain

// Step is one phase of a reconciliation run, in execution order.
type Step string

const (
	StepLoading     Step = "loading"
	StepValidation  Step = "validation"
	StepComparison  Step = "comparison"
	StepCalculation Step = "calculation"
	StepReport      Step = "report"
)

// Steps lists every phase in the order it runs.
var Steps = []Step{StepLoading, StepValidation, StepComparison, StepCalculation, StepReport}

// Percentage is the completion reported once the step has finished.
func (s Step) Percentage() int {
	switch s {
	case StepLoading:
		return 20
	case StepValidation:
		return 40
	case StepComparison:
		return 60
	case StepCalculation:
		return 80
	case StepReport:
		return 100
	}
	return 0
}

// ProgressStats is a partial snapshot of the summary counters, filled in as
// phases complete.
type ProgressStats struct {
	TotalRecordsA   int `json:"total_records_a"`
	TotalRecordsB   int `json:"total_records_b"`
	MatchingCount   int `json:"matching_records_count,omitempty"`
	MismatchedCount int `json:"mismatched_records_count,omitempty"`
	OnlyInACount    int `json:"only_in_a_count,omitempty"`
	OnlyInBCount    int `json:"only_in_b_count,omitempty"`
	DuplicateKeysA  int `json:"duplicate_keys_a,omitempty"`
	DuplicateKeysB  int `json:"duplicate_keys_b,omitempty"`
	RateEntries     int `json:"rate_entries,omitempty"`
}
