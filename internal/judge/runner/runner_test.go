package runner

import (
	"context"
	"errors"
	"testing"

	"ojcore/internal/judge/client"
)

type fakeJudge struct {
	results []*client.RunResult
	err     error
	calls   []client.RunRequest
}

func (f *fakeJudge) RunOne(ctx context.Context, req client.RunRequest) (*client.RunResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.results) {
		return &client.RunResult{Status: client.Status{ID: client.StatusAccepted}}, nil
	}
	return f.results[idx], nil
}

func accepted(stdout string, timeSec float64, mem int64) *client.RunResult {
	return &client.RunResult{
		Stdout:      stdout,
		Status:      client.Status{ID: client.StatusAccepted, Description: "Accepted"},
		TimeSeconds: timeSec,
		MemoryKB:    mem,
	}
}

func newRunner(t *testing.T, judge Judge) *Runner {
	t.Helper()
	r, err := NewRunner(judge, Config{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func TestGrade_AllAccepted(t *testing.T) {
	judge := &fakeJudge{results: []*client.RunResult{
		accepted("3\n", 0.010, 1000),
		accepted("  7 ", 0.025, 900),
	}}
	r := newRunner(t, judge)

	res, err := r.Grade(context.Background(), GradeInput{
		SourceCode: "src",
		LanguageID: 71,
		TestCases: []TestCase{
			{Input: "1 2", ExpectedOutput: "3", Points: 1},
			{Input: "3 4", ExpectedOutput: "7\n", Points: 1},
		},
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Score != 100 || res.PassedPoints != 2 || res.TotalPoints != 2 {
		t.Fatalf("unexpected score: %+v", res)
	}
	if res.MaxTimeMs != 25 || res.MaxMemoryKB != 1000 {
		t.Fatalf("unexpected maxima: time=%d mem=%d", res.MaxTimeMs, res.MaxMemoryKB)
	}
	for i, c := range res.Cases {
		if !c.Passed || c.Index != i {
			t.Fatalf("case %d not passed: %+v", i, c)
		}
	}
}

func TestGrade_DefaultLimits(t *testing.T) {
	judge := &fakeJudge{}
	r := newRunner(t, judge)
	cpu := 1.5
	_, err := r.Grade(context.Background(), GradeInput{
		TestCases:    []TestCase{{Points: 1}, {Points: 1}},
		CPUTimeLimit: &cpu,
	})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	req := judge.calls[0]
	if *req.CPUTimeLimit != 1.5 {
		t.Fatalf("cpu limit = %v", *req.CPUTimeLimit)
	}
	if *req.MemoryLimit != defaultMemoryLimit {
		t.Fatalf("memory limit = %v", *req.MemoryLimit)
	}
}

func TestGrade_SkipsAfterFatal(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"compilation error", client.StatusCompilationError},
		{"internal error", client.StatusInternalError},
		{"exec format error", client.StatusExecFormatError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &fakeJudge{results: []*client.RunResult{
				accepted("1", 0.01, 10),
				{Status: client.Status{ID: tt.status}, CompileOutput: "boom"},
			}}
			r := newRunner(t, judge)

			res, err := r.Grade(context.Background(), GradeInput{TestCases: []TestCase{
				{ExpectedOutput: "1", Points: 1},
				{ExpectedOutput: "2", Points: 1},
				{ExpectedOutput: "3", Points: 1},
				{ExpectedOutput: "4", Points: 1},
			}})
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if len(judge.calls) != 2 {
				t.Fatalf("judge calls = %d, want 2", len(judge.calls))
			}
			if len(res.Cases) != 4 {
				t.Fatalf("cases = %d, want 4", len(res.Cases))
			}
			for _, c := range res.Cases[2:] {
				if !c.Skipped || c.Passed || c.Status != client.SkippedStatus || c.TimeSeconds != 0 || c.MemoryKB != 0 {
					t.Fatalf("case %d should be skipped: %+v", c.Index, c)
				}
			}
			if res.Score != 25 {
				t.Fatalf("score = %d, want 25", res.Score)
			}
		})
	}
}

func TestGrade_CompileErrorOnFirstCase(t *testing.T) {
	judge := &fakeJudge{results: []*client.RunResult{
		{Status: client.Status{ID: client.StatusCompilationError, Description: "Compilation Error"}},
	}}
	r := newRunner(t, judge)

	res, err := r.Grade(context.Background(), GradeInput{TestCases: []TestCase{
		{ExpectedOutput: "1", Points: 1},
		{ExpectedOutput: "2", Points: 1},
	}})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Score != 0 || len(judge.calls) != 1 {
		t.Fatalf("score=%d calls=%d", res.Score, len(judge.calls))
	}
	if !res.Cases[1].Skipped || res.Cases[1].Passed {
		t.Fatalf("second case should be skipped: %+v", res.Cases[1])
	}
}

func TestGrade_WrongOutputWithAcceptedStatus(t *testing.T) {
	judge := &fakeJudge{results: []*client.RunResult{accepted("4", 0, 0), accepted("5", 0, 0)}}
	r := newRunner(t, judge)
	res, err := r.Grade(context.Background(), GradeInput{TestCases: []TestCase{
		{ExpectedOutput: "3", Points: 2},
		{ExpectedOutput: "5", Points: 1},
	}})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if res.Cases[0].Passed || !res.Cases[1].Passed {
		t.Fatalf("unexpected pass flags: %+v", res.Cases)
	}
	if res.Score != 33 {
		t.Fatalf("score = %d, want 33", res.Score)
	}
}

func TestGrade_JudgeErrorAborts(t *testing.T) {
	boom := errors.New("judge down")
	r := newRunner(t, &fakeJudge{err: boom})
	_, err := r.Grade(context.Background(), GradeInput{TestCases: []TestCase{{Points: 1}}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected judge error, got %v", err)
	}
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		passed, total, want int
	}{
		{0, 0, 0},
		{0, 5, 0},
		{5, 5, 100},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{199, 200, 100}, // rounds up; the verdict still needs every case
	}
	for _, tt := range tests {
		if got := ComputeScore(tt.passed, tt.total); got != tt.want {
			t.Fatalf("ComputeScore(%d, %d) = %d, want %d", tt.passed, tt.total, got, tt.want)
		}
	}
}
