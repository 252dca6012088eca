// Package queue implements the job broker between the sync dispatcher and the
// worker pool as a small priority queue on Redis sorted sets.
//
// Delivery guarantees are at-least-once: a job is parked under a visibility
// deadline while a worker holds it, and is re-delivered if the deadline passes
// without an ack. Retry scheduling with backoff uses a delayed set scored by
// the ready time. Exactly-once execution is layered on top by the worker's
// per-batch lock and the ledger's terminal states, not by the queue itself.
package queue
