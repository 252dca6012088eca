// Package worker consumes queued sync batches. N consumers share a
// token-bucket rate limit; each batch is claimed through a distributed lock
// and retried with exponential backoff until it completes or its attempt
// budget runs out.
package worker
