package execute

import (
	"context"

	"github.com/custos-tech/custos/pkg/claim"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/worker"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailed
	outcomeSkipped
)

// drain claims and handles jobs from one candidate batch until every claim
// is lost or the batch is exhausted. Skipped jobs (lock contention, crash
// resume) count as processed but neither succeeded nor failed.
func drain[J claim.Job](ctx context.Context, c *core, table string, jobs []J, handle func(context.Context, J) (outcome, error)) (worker.CycleResult, error) {
	var res worker.CycleResult
	remaining := jobs
	for len(remaining) > 0 {
		job, ok, err := claim.First(ctx, c.store, table, remaining)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		kept := remaining[:0]
		for _, j := range remaining {
			if j.JobID() != job.JobID() {
				kept = append(kept, j)
			}
		}
		remaining = kept

		res.Processed++
		out, err := handle(ctx, job)
		if err != nil {
			return res, err
		}
		switch out {
		case outcomeSuccess:
			res.Succeeded++
			metrics.JobsProcessed.WithLabelValues(table, "success").Inc()
		case outcomeFailed:
			res.Failed++
			metrics.JobsProcessed.WithLabelValues(table, "failed").Inc()
		default:
			metrics.JobsProcessed.WithLabelValues(table, "skipped").Inc()
		}
	}
	return res, nil
}
