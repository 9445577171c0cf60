package runtime

import (
	"context"
	"sync"
	"time"

	"taskgrid/internal/future"
)

// IssueExecutionFence returns a future that completes once every point of
// every launch issued before the fence has completed. Launches issued after
// the fence hold their points until it completes. Issuing a fence never
// blocks.
func (rt *Runtime) IssueExecutionFence() *future.Future {
	f := future.New()

	rt.mu.Lock()
	prevBarrier := rt.barrier
	prevEpoch := rt.epoch
	rt.fenceSeq++
	seq := rt.fenceSeq
	rt.barrier = f
	rt.epoch = new(sync.WaitGroup)
	rt.mu.Unlock()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		// The previous barrier covers every epoch before the last fence;
		// the epoch wait group covers launches issued since then.
		<-prevBarrier.Done()
		prevEpoch.Wait()

		now := time.Now().UTC()
		if err := rt.rec.RecordFence(context.Background(), seq, now); err != nil {
			rt.logger.Error("failed to record fence", "fence", seq, "error", err)
		}
		rt.nFences.Add(1)
		fencesTotal.Inc()
		rt.broker.Publish(Event{Kind: EventFence, Fence: seq, At: now})
		rt.logger.Debug("execution fence completed", "fence", seq)

		f.Complete(nil, nil)
	}()

	return f
}
