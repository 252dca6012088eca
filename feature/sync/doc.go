// Package sync is the device-facing side of the reconciliation engine: the
// HTTP surface, the submission dispatcher, the durable batch ledger, and the
// status cache.
//
// A submission is validated, recorded in the ledger, then either reconciled
// inline (small batches, HTTP 200 with the result) or queued for the worker
// pool (HTTP 202 with the batch id to poll). The ledger is the source of
// truth for batch state; Redis only accelerates status polls.
package sync
