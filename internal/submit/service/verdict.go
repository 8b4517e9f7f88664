package service

import (
	"ojcore/internal/judge/runner"
	"ojcore/internal/submit/repository"
)

// DeriveVerdict picks the overall verdict of a run. Structural failures
// outrank the score in the order CE, IE, RTE, TLE. AC needs every case to
// pass; a rounded score of 100 is not enough. Any earned points make the run
// PARTIAL, otherwise it is WA.
func DeriveVerdict(result *runner.GradeResult) repository.Verdict {
	if result == nil || len(result.Cases) == 0 {
		return repository.VerdictWrongAnswer
	}
	var internalErr, runtimeErr, timeLimit bool
	allPassed := true
	for _, c := range result.Cases {
		switch {
		case c.Status.IsCompilationError():
			return repository.VerdictCompileError
		case c.Status.IsInternalError():
			internalErr = true
		case c.Status.IsRuntimeError():
			runtimeErr = true
		case c.Status.IsTimeLimit():
			timeLimit = true
		}
		if !c.Passed {
			allPassed = false
		}
	}
	switch {
	case internalErr:
		return repository.VerdictInternalError
	case runtimeErr:
		return repository.VerdictRuntimeError
	case timeLimit:
		return repository.VerdictTimeLimit
	case allPassed:
		return repository.VerdictAccepted
	case result.PassedPoints > 0:
		return repository.VerdictPartial
	default:
		return repository.VerdictWrongAnswer
	}
}

func acceptedCount(verdict repository.Verdict) int64 {
	if verdict == repository.VerdictAccepted {
		return 1
	}
	return 0
}
