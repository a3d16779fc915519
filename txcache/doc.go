// Package txcache scopes the second level cache to database transactions.
//
// The Interceptor wraps every executor a session factory creates. Select
// results are kept in a per transaction Buffer so later selects of the same
// transaction see them, while other sessions keep reading the shared cache.
// Statements flagged FlushCache push a flush marker instead.
//
// On commit the shared cache of every flushed namespace is cleared once and
// the buffered results are written. On rollback the results are dropped but
// the clears still happen: the flushing statement may have changed rows that
// other sessions cached.
//
// Before each statement the executor compares the cache linked to the
// statement with the one bound to its namespace in the engine configuration,
// so a binding replaced at runtime is picked up on the next statement. The
// superseded cache is cleared once.
//
// Cache backend failures are logged and counted, and never fail the
// transaction.
package txcache
