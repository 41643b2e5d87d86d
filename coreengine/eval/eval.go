// Package eval scores intent classification against a directory of tasks.
//
// A task file is a JSON object {"id", "request", "expected_intent"}. Tasks
// are loaded from *.json files sorted by name and run either through the
// classifier alone or through the full pipeline with tool execution off.
package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/agents"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/envelope"
)

// DefaultConcurrency bounds parallel task evaluation.
const DefaultConcurrency = 4

// ErrNoTasks is returned when a directory holds no task files.
var ErrNoTasks = errors.New("no eval tasks found")

// Task is one labeled request.
type Task struct {
	ID             string          `json:"id"`
	Request        string          `json:"request"`
	ExpectedIntent envelope.Intent `json:"expected_intent"`
	// File is the path the task was loaded from.
	File string `json:"-"`
}

// Result is the outcome of one task.
type Result struct {
	Task   Task
	Got    envelope.Intent
	Passed bool
	Err    error
}

// Report summarizes a run over all tasks, in task order.
type Report struct {
	Results []Result
	Passed  int
	Total   int
}

// Accuracy is Passed/Total, or 0 for an empty report.
func (r Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// PipelineFunc runs one request through the pipeline and returns the final state.
type PipelineFunc func(ctx context.Context, request string) (envelope.RunState, error)

// Options configures Run.
type Options struct {
	// Pipeline, when set, is used instead of the bare classifier.
	Pipeline    PipelineFunc
	Concurrency int
}

// LoadTasks reads and validates every *.json task in dir.
func LoadTasks(dir string) ([]Task, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTasks, dir)
	}

	tasks := make([]Task, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		task, err := loadTask(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[task.ID]; ok {
			return nil, fmt.Errorf("duplicate task id %q in %s and %s", task.ID, prev, path)
		}
		seen[task.ID] = path
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func loadTask(path string) (Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("read task: %w", err)
	}

	var raw struct {
		ID             string `json:"id"`
		Request        string `json:"request"`
		ExpectedIntent string `json:"expected_intent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", path, err)
	}

	task := Task{
		ID:      strings.TrimSpace(raw.ID),
		Request: strings.TrimSpace(raw.Request),
		File:    path,
	}
	if task.ID == "" || task.Request == "" || strings.TrimSpace(raw.ExpectedIntent) == "" {
		return Task{}, fmt.Errorf("invalid task %s: id, request and expected_intent are required", path)
	}
	intent, err := envelope.IntentFromString(raw.ExpectedIntent)
	if err != nil {
		return Task{}, fmt.Errorf("invalid task %s: %w", path, err)
	}
	task.ExpectedIntent = intent
	return task, nil
}

// Run evaluates tasks with bounded concurrency. A pipeline error fails
// only its task; Run returns an error only when ctx is cancelled.
func Run(ctx context.Context, tasks []Task, opts Options) (Report, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = evaluate(gctx, task, opts.Pipeline)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Passed {
			report.Passed++
		}
	}
	return report, nil
}

func evaluate(ctx context.Context, task Task, pipeline PipelineFunc) Result {
	result := Result{Task: task}
	if pipeline == nil {
		result.Got = agents.ClassifyIntent(task.Request)
	} else {
		s, err := pipeline(ctx, task.Request)
		if err != nil {
			result.Err = err
			return result
		}
		result.Got = s.Intent
	}
	result.Passed = result.Got == task.ExpectedIntent
	return result
}
