package client

// Judge0 status ids.
const (
	StatusSkipped           = 0
	StatusInQueue           = 1
	StatusProcessing        = 2
	StatusAccepted          = 3
	StatusWrongAnswer       = 4
	StatusTimeLimitExceeded = 5
	StatusCompilationError  = 6
	StatusRuntimeSIGSEGV    = 7
	StatusRuntimeSIGXFSZ    = 8
	StatusRuntimeSIGFPE     = 9
	StatusRuntimeSIGABRT    = 10
	StatusRuntimeNZEC       = 11
	StatusRuntimeOther      = 12
	StatusInternalError     = 13
	StatusExecFormatError   = 14
)

// Status is the judge's verdict for one execution.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// SkippedStatus marks a case that was never sent to the judge.
var SkippedStatus = Status{ID: StatusSkipped, Description: "SKIPPED"}

func (s Status) IsAccepted() bool { return s.ID == StatusAccepted }

func (s Status) IsCompilationError() bool { return s.ID == StatusCompilationError }

func (s Status) IsTimeLimit() bool { return s.ID == StatusTimeLimitExceeded }

func (s Status) IsSkipped() bool { return s.ID == StatusSkipped }

// IsInternalError reports a failure on the judge side, not in the program.
func (s Status) IsInternalError() bool { return s.ID == StatusInternalError }

// IsRuntimeError covers the SIGSEGV..Other range and binaries the judge
// could not execute.
func (s Status) IsRuntimeError() bool {
	return (s.ID >= StatusRuntimeSIGSEGV && s.ID <= StatusRuntimeOther) || s.ID == StatusExecFormatError
}

// IsFatal reports statuses after which no later test case can pass.
func (s Status) IsFatal() bool {
	switch s.ID {
	case StatusCompilationError, StatusInternalError, StatusExecFormatError:
		return true
	default:
		return false
	}
}
