// Package scheduler is the timer bank: one recurring timer per job type.
//
// Timers never execute work. A firing only enqueues a scheduled request into
// the queue processor; execution, retries and bookkeeping happen there.
package scheduler
