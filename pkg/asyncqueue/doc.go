// Package asyncqueue runs a list of deferred operations with bounded
// concurrency.
//
// A Queue admits at most Options.Max operations at a time. In flow mode a
// freed slot is refilled as soon as the finished task's WaitTime elapses;
// in batch mode tasks run in lock-step groups of Max separated by
// WaitTaskTime. Each settled task emits one Change to the listeners, in
// completion order, and the final results are returned in task order.
//
//	q, err := asyncqueue.New(ctx, []asyncqueue.Operation[int]{
//		asyncqueue.Const(1),
//		fetchTwo,
//	}, asyncqueue.WithMax(2), asyncqueue.WithRetryCount(3),
//		asyncqueue.WithListener(func(c asyncqueue.Change[int]) {
//			log.Printf("task %d: %s (%.0f%%)", c.Index, c.Status, c.Progress*100)
//		}))
//	if err != nil {
//		return err
//	}
//	results, err := q.Wait(ctx)
//
// Listeners passed with WithListener, or added between Prepare and Start,
// see every event. A queue suspended before Start admits nothing until
// Resume.
//
// Failures are captured per task unless ThrowError is set, in which case
// the first failure ends the run with a *TaskError.
package asyncqueue
