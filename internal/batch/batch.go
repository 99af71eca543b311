// Package batch diffs many release pairs with a bounded pool of extraction
// workers, isolating each job's failure from the rest.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/apidrift/internal/diff"
	"github.com/phobologic/apidrift/internal/harness"
	"github.com/phobologic/apidrift/internal/model"
	"github.com/phobologic/apidrift/internal/ranking"
)

// Defaults applied when a Pipeline field is zero.
const (
	DefaultWorkers    = 4
	DefaultJobTimeout = 20 * time.Minute
	DefaultCacheSize  = 64
)

// Extractor produces a collection for an input. *harness.Runner is the
// production implementation.
type Extractor interface {
	RunIsolated(ctx context.Context, in harness.Input) (*harness.Result, error)
}

// Job is one release pair to compare.
type Job struct {
	Name string        `yaml:"name" json:"name"`
	Old  harness.Input `yaml:"old" json:"old"`
	New  harness.Input `yaml:"new" json:"new"`
}

func (j Job) label() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Old.Release.String() + ".." + j.New.Release.String()
}

// Result is the outcome of one job.
type Result struct {
	Index      int
	Job        Job
	OK         bool
	Message    string
	Difference *model.Difference
	Err        error
	Duration   time.Duration
}

// Summary aggregates a run. Results are ordered by job index.
type Summary struct {
	RunID   string
	Success int
	Total   int
	Results []Result
}

// Pipeline runs jobs.
type Pipeline struct {
	Extractor Extractor
	// Differ defaults to a diff engine with the default rules.
	Differ     *diff.Engine
	Workers    int
	JobTimeout time.Duration
	// CacheSize bounds the number of memoized collections.
	CacheSize int
	Logger    *slog.Logger
}

func (p *Pipeline) workers() int {
	if p.Workers <= 0 {
		return DefaultWorkers
	}
	return p.Workers
}

func (p *Pipeline) jobTimeout() time.Duration {
	if p.JobTimeout <= 0 {
		return DefaultJobTimeout
	}
	return p.JobTimeout
}

// Run executes jobs and returns one result per job. A failing job never
// stops the others; cancelling ctx fails the jobs that have not finished.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) Summary {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	logger = logger.With("run", runID)

	size := p.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	m, err := newMemo(ctx, p.Extractor, size, p.jobTimeout())
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	differ := p.Differ
	if differ == nil {
		differ = diff.NewEngine(nil, logger)
	}

	logger.Info("batch started", "jobs", len(jobs), "workers", p.workers())
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.workers())
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = p.runJob(ctx, i, job, m, differ, logger)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{RunID: runID, Total: len(jobs), Results: results}
	for _, r := range results {
		if r.OK {
			summary.Success++
		}
	}
	logger.Info("batch finished", "success", summary.Success, "total", summary.Total)
	return summary
}

func (p *Pipeline) runJob(ctx context.Context, index int, job Job, m *memo, differ *diff.Engine, logger *slog.Logger) (res Result) {
	res = Result{Index: index, Job: job}
	logger = logger.With("job", index, "name", job.label())
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.OK, res.Difference = false, nil
			res.Err = fmt.Errorf("job panicked: %v", r)
			res.Message = res.Err.Error()
		}
		res.Duration = time.Since(start)
		recordJob(res.OK, res.Duration)
		if res.OK {
			logger.Info("job succeeded", "duration", res.Duration, "message", res.Message)
		} else {
			logger.Error("job failed", "duration", res.Duration, "error", res.Err)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout())
	defer cancel()

	old, err := m.extract(jobCtx, job.Old)
	if err != nil {
		res.Err = fmt.Errorf("old release: %w", err)
		res.Message = res.Err.Error()
		return res
	}
	new, err := m.extract(jobCtx, job.New)
	if err != nil {
		res.Err = fmt.Errorf("new release: %w", err)
		res.Message = res.Err.Error()
		return res
	}

	d, err := differ.Diff(jobCtx, old, new)
	if err != nil {
		res.Err = fmt.Errorf("diff: %w", err)
		res.Message = res.Err.Error()
		return res
	}
	res.OK = true
	res.Difference = d
	res.Message = describe(d)
	return res
}

func describe(d *model.Difference) string {
	level := "none"
	if l, ok := ranking.Level(d); ok {
		level = l.String()
	}
	return fmt.Sprintf("%s -> %s: %d changes, level %s",
		d.Old.Release(), d.New.Release(), len(d.Entries), level)
}
