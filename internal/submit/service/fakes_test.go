package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"ojcore/internal/common/db"
	"ojcore/internal/judge/client"
	"ojcore/internal/judge/runner"
	problemRepo "ojcore/internal/problem/repository"
	statsService "ojcore/internal/stats/service"
	"ojcore/internal/submit/repository"
)

// fakeStore holds every table in memory. Transactions snapshot the state and
// restore it when fn fails, so atomicity is observable in tests.
type fakeStore struct {
	mu          sync.Mutex
	submissions map[string]repository.Submission
	runs        map[string][]repository.Run
	problems    map[int64]problemRepo.Problem
	stats       map[string]statsService.Delta

	txCalls   int
	nilTxSeen int
	failStats error
	// failStatsTimes limits failStats to that many calls; zero fails every call.
	failStatsTimes int

	inTx bool
	// invalidated records cache invalidations; invalidatedInTx counts those
	// issued before the enclosing transaction finished.
	invalidated     []string
	invalidatedInTx int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[string]repository.Submission),
		runs:        make(map[string][]repository.Run),
		problems:    make(map[int64]problemRepo.Problem),
		stats:       make(map[string]statsService.Delta),
	}
}

type snapshot struct {
	submissions map[string]repository.Submission
	runs        map[string][]repository.Run
	problems    map[int64]problemRepo.Problem
	stats       map[string]statsService.Delta
}

func (s *fakeStore) snapshot() snapshot {
	snap := snapshot{
		submissions: make(map[string]repository.Submission, len(s.submissions)),
		runs:        make(map[string][]repository.Run, len(s.runs)),
		problems:    make(map[int64]problemRepo.Problem, len(s.problems)),
		stats:       make(map[string]statsService.Delta, len(s.stats)),
	}
	for k, v := range s.submissions {
		snap.submissions[k] = v
	}
	for k, v := range s.runs {
		snap.runs[k] = append([]repository.Run(nil), v...)
	}
	for k, v := range s.problems {
		snap.problems[k] = v
	}
	for k, v := range s.stats {
		snap.stats[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap snapshot) {
	s.submissions = snap.submissions
	s.runs = snap.runs
	s.problems = snap.problems
	s.stats = snap.stats
}

func (s *fakeStore) observe(tx db.Transaction) {
	if tx == nil {
		s.nilTxSeen++
	}
}

// fakeDatabase satisfies db.Database; only Transaction is exercised.
type fakeDatabase struct {
	store *fakeStore
}

type fakeTx struct{}

func (fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}
func (fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row { return nil }
func (fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("not implemented")
}
func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func (d *fakeDatabase) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}
func (d *fakeDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}
func (d *fakeDatabase) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, errors.New("not implemented")
}
func (d *fakeDatabase) BeginTx(ctx context.Context) (db.Transaction, error) { return fakeTx{}, nil }
func (d *fakeDatabase) Ping(ctx context.Context) error                      { return nil }
func (d *fakeDatabase) Close() error                                        { return nil }

func (d *fakeDatabase) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	d.store.mu.Lock()
	d.store.txCalls++
	d.store.inTx = true
	snap := d.store.snapshot()
	d.store.mu.Unlock()
	err := fn(fakeTx{})
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	d.store.inTx = false
	if err != nil {
		d.store.restore(snap)
		return err
	}
	return nil
}

type fakeSubmissions struct{ s *fakeStore }

func (f fakeSubmissions) Create(ctx context.Context, tx db.Transaction, sub *repository.Submission) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	if _, ok := f.s.submissions[sub.SubmissionID]; ok {
		return errors.New("duplicate submission")
	}
	f.s.submissions[sub.SubmissionID] = *sub
	return nil
}

func (f fakeSubmissions) GetByID(ctx context.Context, tx db.Transaction, id string) (*repository.Submission, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sub, ok := f.s.submissions[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (f fakeSubmissions) UpdateEvaluation(ctx context.Context, tx db.Transaction, id string, eval repository.Evaluation) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	sub, ok := f.s.submissions[id]
	if !ok || sub.Deleted() {
		return repository.ErrSubmissionNotFound
	}
	sub.Verdict = eval.Verdict
	sub.Score = eval.Score
	sub.MaxTimeMs = eval.MaxTimeMs
	sub.MaxMemoryKB = eval.MaxMemoryKB
	sub.Results = eval.Results
	sub.UpdatedAt = eval.UpdatedAt
	f.s.submissions[id] = sub
	return nil
}

func (f fakeSubmissions) SoftDelete(ctx context.Context, tx db.Transaction, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	sub, ok := f.s.submissions[id]
	if !ok || sub.Deleted() {
		return false, nil
	}
	now := fixedNow
	sub.DeletedAt = &now
	f.s.submissions[id] = sub
	return true, nil
}

func (f fakeSubmissions) CountByProblem(ctx context.Context, tx db.Transaction, problemID int64) (repository.ProblemTotals, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var totals repository.ProblemTotals
	for _, sub := range f.s.submissions {
		if sub.ProblemID != problemID || sub.Deleted() {
			continue
		}
		totals.Submissions++
		if sub.Verdict == repository.VerdictAccepted {
			totals.Accepted++
		}
	}
	return totals, nil
}

func (f fakeSubmissions) Invalidate(ctx context.Context, id string) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.invalidated = append(f.s.invalidated, id)
	if f.s.inTx {
		f.s.invalidatedInTx++
	}
}

type fakeRuns struct{ s *fakeStore }

func (f fakeRuns) Append(ctx context.Context, tx db.Transaction, run *repository.Run) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	run.RunNo = len(f.s.runs[run.SubmissionID]) + 1
	run.CreatedAt = fixedNow
	f.s.runs[run.SubmissionID] = append(f.s.runs[run.SubmissionID], *run)
	return nil
}

func (f fakeRuns) List(ctx context.Context, tx db.Transaction, submissionID string) ([]repository.Run, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return append([]repository.Run(nil), f.s.runs[submissionID]...), nil
}

type fakeProblems struct{ s *fakeStore }

func (f fakeProblems) GetByID(ctx context.Context, tx db.Transaction, id int64) (*problemRepo.Problem, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.problems[id]
	if !ok {
		return nil, problemRepo.ErrProblemNotFound
	}
	return &p, nil
}

func (f fakeProblems) GetCounters(ctx context.Context, tx db.Transaction, id int64) (problemRepo.Counters, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.problems[id]
	if !ok {
		return problemRepo.Counters{}, problemRepo.ErrProblemNotFound
	}
	return problemRepo.Counters{SubmissionCount: p.SubmissionCount, AcceptedCount: p.AcceptedCount}, nil
}

func (f fakeProblems) IncrementCounters(ctx context.Context, tx db.Transaction, id int64, subDelta, acDelta int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	p, ok := f.s.problems[id]
	if !ok {
		return problemRepo.ErrProblemNotFound
	}
	p.SubmissionCount = max(p.SubmissionCount+subDelta, 0)
	p.AcceptedCount = max(p.AcceptedCount+acDelta, 0)
	f.s.problems[id] = p
	return nil
}

func (f fakeProblems) SetCounters(ctx context.Context, tx db.Transaction, id int64, counters problemRepo.Counters) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.problems[id]
	if !ok {
		return problemRepo.ErrProblemNotFound
	}
	p.SubmissionCount = counters.SubmissionCount
	p.AcceptedCount = counters.AcceptedCount
	f.s.problems[id] = p
	return nil
}

func (f fakeProblems) ListIDs(ctx context.Context) ([]int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	ids := make([]int64, 0, len(f.s.problems))
	for id := range f.s.problems {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f fakeProblems) Invalidate(ctx context.Context, id int64) {}

type fakeStats struct{ s *fakeStore }

func (f fakeStats) Increment(ctx context.Context, tx db.Transaction, userID int64, day string, delta statsService.Delta) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.observe(tx)
	if f.s.failStats != nil {
		err := f.s.failStats
		if f.s.failStatsTimes > 0 {
			f.s.failStatsTimes--
			if f.s.failStatsTimes == 0 {
				f.s.failStats = nil
			}
		}
		return err
	}
	key := statsKey(userID, day)
	cur := f.s.stats[key]
	cur.Submit += delta.Submit
	cur.AC += delta.AC
	f.s.stats[key] = cur
	return nil
}

// fakeGrader replays scripted outcomes, one per Grade call; the last one repeats.
type fakeGrader struct {
	mu       sync.Mutex
	outcomes []gradeOutcome
	calls    int
	inputs   []runner.GradeInput
}

type gradeOutcome struct {
	result *runner.GradeResult
	err    error
}

func (g *fakeGrader) Grade(ctx context.Context, in runner.GradeInput) (*runner.GradeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, in)
	idx := g.calls
	if idx >= len(g.outcomes) {
		idx = len(g.outcomes) - 1
	}
	g.calls++
	if idx < 0 {
		return nil, errors.New("no scripted outcome")
	}
	return g.outcomes[idx].result, g.outcomes[idx].err
}

type fakeCatalog struct {
	known map[int]bool
	err   error
}

func (c fakeCatalog) SupportsLanguage(ctx context.Context, id int) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.known[id], nil
}

func accepted(n int) gradeOutcome {
	res := &runner.GradeResult{}
	for i := 0; i < n; i++ {
		res.Cases = append(res.Cases, runner.CaseResult{
			Index:  i,
			Passed: true,
			Points: 1,
			Status: client.Status{ID: client.StatusAccepted, Description: "Accepted"},
		})
	}
	res.TotalPoints, res.PassedPoints, res.Score = n, n, 100
	res.MaxTimeMs, res.MaxMemoryKB = 15, 2048
	return gradeOutcome{result: res}
}

func wrongAnswer(n int) gradeOutcome {
	res := &runner.GradeResult{TotalPoints: n}
	for i := 0; i < n; i++ {
		res.Cases = append(res.Cases, runner.CaseResult{
			Index:  i,
			Points: 1,
			Status: client.Status{ID: client.StatusWrongAnswer, Description: "Wrong Answer"},
		})
	}
	return gradeOutcome{result: res}
}

func compileError(n int) gradeOutcome {
	res := &runner.GradeResult{TotalPoints: n}
	res.Cases = append(res.Cases, runner.CaseResult{
		Index:  0,
		Points: 1,
		Status: client.Status{ID: client.StatusCompilationError, Description: "Compilation Error"},
	})
	for i := 1; i < n; i++ {
		res.Cases = append(res.Cases, runner.CaseResult{Index: i, Points: 1, Skipped: true, Status: client.SkippedStatus})
	}
	return gradeOutcome{result: res}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryObjects) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = string(data)
	return nil
}

func (m *memoryObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}
