package runner

import (
	"context"
	"fmt"
	"math"
	"strings"

	"ojcore/internal/judge/client"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultCPUTimeLimit = 2.0    // seconds
	defaultMemoryLimit  = 262144 // KB
)

// Judge executes one test case.
type Judge interface {
	RunOne(ctx context.Context, req client.RunRequest) (*client.RunResult, error)
}

// Config holds the limits used when a problem does not set its own.
type Config struct {
	DefaultCPUTimeLimit float64 `yaml:"defaultCPUTimeLimit"`
	DefaultMemoryLimit  int64   `yaml:"defaultMemoryLimit"`
}

// TestCase is one weighted input/expected-output pair.
type TestCase struct {
	Input          string
	ExpectedOutput string
	Points         int
}

// GradeInput describes one grading run.
type GradeInput struct {
	SourceCode   string
	LanguageID   int
	TestCases    []TestCase
	CPUTimeLimit *float64
	MemoryLimit  *int64
}

// CaseResult is the outcome of a single test case.
type CaseResult struct {
	Index         int           `json:"index"`
	Passed        bool          `json:"passed"`
	Skipped       bool          `json:"skipped"`
	Points        int           `json:"points"`
	Status        client.Status `json:"status"`
	Stdout        string        `json:"stdout,omitempty"`
	Stderr        string        `json:"stderr,omitempty"`
	CompileOutput string        `json:"compile_output,omitempty"`
	Message       string        `json:"message,omitempty"`
	TimeSeconds   float64       `json:"time"`
	MemoryKB      int64         `json:"memory"`
}

// GradeResult aggregates every case of a run.
type GradeResult struct {
	Cases        []CaseResult
	TotalPoints  int
	PassedPoints int
	Score        int
	MaxTimeMs    int64
	MaxMemoryKB  int64
}

// Runner grades source code against ordered test cases, one case at a time.
type Runner struct {
	judge    Judge
	cpuLimit float64
	memLimit int64
}

// NewRunner creates a Runner.
func NewRunner(judge Judge, cfg Config) (*Runner, error) {
	if judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.DefaultCPUTimeLimit <= 0 {
		cfg.DefaultCPUTimeLimit = defaultCPUTimeLimit
	}
	if cfg.DefaultMemoryLimit <= 0 {
		cfg.DefaultMemoryLimit = defaultMemoryLimit
	}
	return &Runner{judge: judge, cpuLimit: cfg.DefaultCPUTimeLimit, memLimit: cfg.DefaultMemoryLimit}, nil
}

// Grade runs every case in order. After a fatal status the remaining cases are
// recorded as skipped without calling the judge. A judge error aborts grading.
func (r *Runner) Grade(ctx context.Context, in GradeInput) (*GradeResult, error) {
	cpu := r.cpuLimit
	if in.CPUTimeLimit != nil && *in.CPUTimeLimit > 0 {
		cpu = *in.CPUTimeLimit
	}
	mem := r.memLimit
	if in.MemoryLimit != nil && *in.MemoryLimit > 0 {
		mem = *in.MemoryLimit
	}

	result := &GradeResult{Cases: make([]CaseResult, 0, len(in.TestCases))}
	stopped := false
	for i, tc := range in.TestCases {
		points := tc.Points
		if points < 0 {
			points = 0
		}
		result.TotalPoints += points

		if stopped {
			result.Cases = append(result.Cases, CaseResult{
				Index:   i,
				Skipped: true,
				Points:  points,
				Status:  client.SkippedStatus,
			})
			continue
		}

		expected := tc.ExpectedOutput
		res, err := r.judge.RunOne(ctx, client.RunRequest{
			LanguageID:     in.LanguageID,
			SourceCode:     in.SourceCode,
			Stdin:          tc.Input,
			ExpectedOutput: &expected,
			CPUTimeLimit:   &cpu,
			MemoryLimit:    &mem,
		})
		if err != nil {
			return nil, err
		}

		passed := res.Status.IsAccepted() && strings.TrimSpace(res.Stdout) == strings.TrimSpace(tc.ExpectedOutput)
		if passed {
			result.PassedPoints += points
		}
		result.Cases = append(result.Cases, CaseResult{
			Index:         i,
			Passed:        passed,
			Points:        points,
			Status:        res.Status,
			Stdout:        res.Stdout,
			Stderr:        res.Stderr,
			CompileOutput: res.CompileOutput,
			Message:       res.Message,
			TimeSeconds:   res.TimeSeconds,
			MemoryKB:      res.MemoryKB,
		})
		if ms := int64(math.Round(res.TimeSeconds * 1000)); ms > result.MaxTimeMs {
			result.MaxTimeMs = ms
		}
		if res.MemoryKB > result.MaxMemoryKB {
			result.MaxMemoryKB = res.MemoryKB
		}

		if res.Status.IsFatal() {
			logger.Debug(ctx, "fatal judge status, skipping remaining cases",
				zap.Int("case", i),
				zap.Int("status", res.Status.ID),
				zap.Int("skipped", len(in.TestCases)-i-1),
			)
			stopped = true
		}
	}

	result.Score = ComputeScore(result.PassedPoints, result.TotalPoints)
	return result, nil
}

// ComputeScore returns round(passed/total*100), or 0 when total is 0.
func ComputeScore(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(passed) * 100 / float64(total)))
}
