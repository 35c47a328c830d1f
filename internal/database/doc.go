// Package database manages the PostgreSQL connection pool used by the
// connection-history recorder.
package database
