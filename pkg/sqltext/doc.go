// Package sqltext turns raw model output into a single SQL statement and
// decides whether that statement is safe to run against a read-only
// connection.
package sqltext
