package claim

import (
	"context"
	"sort"
	"time"

	"github.com/custos-tech/custos/pkg/types"
)

// Job is the slice of queue-row behavior claiming needs. All three queue job
// types satisfy it through their embedded core.
type Job interface {
	JobID() int64
	JobPriority() types.Priority
	JobScheduledAt() time.Time
}

// Claimer races a single candidate from pending to processing.
type Claimer interface {
	ClaimJob(ctx context.Context, table string, id int64) (bool, error)
}

// Order sorts claim candidates in place: priority rank first, then
// scheduled_at oldest first, then id for a stable tiebreak.
func Order[J Job](jobs []J) {
	sort.SliceStable(jobs, func(i, j int) bool {
		ri, rj := jobs[i].JobPriority().Rank(), jobs[j].JobPriority().Rank()
		if ri != rj {
			return ri < rj
		}
		si, sj := jobs[i].JobScheduledAt(), jobs[j].JobScheduledAt()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return jobs[i].JobID() < jobs[j].JobID()
	})
}

// First orders the candidates and claims them one by one until a conditional
// update wins. Losing a claim is not an error, just another worker being
// faster. Returns the zero J and false when every candidate was taken.
func First[J Job](ctx context.Context, c Claimer, table string, jobs []J) (J, bool, error) {
	Order(jobs)
	var zero J
	for _, job := range jobs {
		won, err := c.ClaimJob(ctx, table, job.JobID())
		if err != nil {
			return zero, false, err
		}
		if won {
			return job, true, nil
		}
	}
	return zero, false, nil
}

// Backoff returns the retry delay for the given attempt count, doubling from
// base and saturating at cap.
func Backoff(retryCount int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
