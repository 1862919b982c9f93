// Package database provides the PostgreSQL connection pool backing the
// relay journal.
package database
