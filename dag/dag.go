package dag

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/humblenginr/brisk/pipeline"
)

type nodeState int

const (
	pending nodeState = iota
	running
	settled
)

// execute runs tasks, which must be in resolved order. A task starts once
// every dependency in the closure has settled, whatever its status; at most
// g.parallelism tasks run at once. With a parallelism of 1 tasks run exactly
// in the given order.
func (g *Graph) execute(ctx context.Context, tasks []*Task) []TaskRun {
	pos := make(map[string]int, len(tasks))
	for i, t := range tasks {
		pos[t.Name] = i
	}

	var (
		state    = make([]nodeState, len(tasks))
		runs     = make([]TaskRun, len(tasks))
		done     = make(chan int, len(tasks))
		inflight int
		finished int
	)

	for finished < len(tasks) {
		for _, i := range g.ready(tasks, state, pos) {
			if inflight == g.parallelism {
				break
			}
			state[i] = running
			inflight++
			go func(i int) {
				runs[i] = g.runTask(ctx, tasks[i])
				done <- i
			}(i)
		}

		i := <-done
		state[i] = settled
		inflight--
		finished++
	}
	return runs
}

// ready returns the pending tasks whose dependencies have all settled, in
// resolved order.
func (g *Graph) ready(tasks []*Task, state []nodeState, pos map[string]int) []int {
	var list []int
	for i, t := range tasks {
		if state[i] != pending {
			continue
		}
		ok := true
		for _, d := range t.Deps {
			if state[pos[d]] != settled {
				ok = false
				break
			}
		}
		if ok {
			list = append(list, i)
		}
	}
	return list
}

// runTask runs one task through the barrier, retrying failed runs with
// backoff when the task allows it. The last run is returned.
func (g *Graph) runTask(ctx context.Context, t *Task) TaskRun {
	var (
		run      TaskRun
		attempts int
	)
	operation := func() error {
		attempts++
		run = g.barrier.Guard(ctx, t.Name, func(ctx context.Context) pipeline.Outcome {
			return g.runner.Execute(ctx, t.Name, t.Pipeline)
		})
		if run.Status == StatusFailed {
			return run.Err
		}
		return nil
	}

	b := backoff.WithMaxRetries(g.newBackOff(), t.Retries)
	_ = backoff.Retry(operation, backoff.WithContext(b, ctx))

	run.Attempts = attempts
	return run
}
