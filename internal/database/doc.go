// Package database provides PostgreSQL connection pool management.
//
// The pool backs two things:
//   - the feed listener, which takes one connection out of the pool for LISTEN
//   - the health endpoint ping
package database
