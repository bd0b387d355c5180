package models

type StepStatus string

const (
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

type Step struct {
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

func Done() Step    { return Step{Status: StepDone} }
func Skipped() Step { return Step{Status: StepSkipped} }

func Failed(err error) Step {
	s := Step{Status: StepFailed}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome describes which side effects of a committed user action took hold.
type Outcome struct {
	Status            OutcomeStatus  `json:"status"`
	Reward            Step           `json:"reward"`
	TaskProgress      Step           `json:"taskProgress"`
	ChallengeProgress Step           `json:"challengeProgress"`
	Broadcast         Step           `json:"broadcast"`
	Ledger            *LedgerEntry   `json:"ledger,omitempty"`
	CompletedTasks    []TaskInstance `json:"completedTasks,omitempty"`
}

// Settle derives Status from the individual steps.
func (o *Outcome) Settle() {
	var done, failed int
	for _, s := range []Step{o.Reward, o.TaskProgress, o.ChallengeProgress, o.Broadcast} {
		switch s.Status {
		case StepDone:
			done++
		case StepFailed:
			failed++
		}
	}
	switch {
	case done == 0 && failed == 0:
		o.Status = OutcomeSkipped
	case failed == 0:
		o.Status = OutcomeSuccess
	case done == 0:
		o.Status = OutcomeFailed
	default:
		o.Status = OutcomePartial
	}
}
