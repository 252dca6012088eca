// Package cache provides the Redis client shared by the status cache, the job
// queue and the worker lock.
//
// The client is built exactly once in the start command and injected into the
// components that need it, with Close wired into graceful shutdown. Components
// tolerate a nil client: Redis is an optimization and a transport here, never
// the source of truth (the ledger in MySQL is).
package cache
