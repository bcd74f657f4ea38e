// Package mysql provides the MySQL-backed relay journal. It encapsulates
// connection pool setup, schema migrations, and the strongly typed queries
// used to persist relay records, confirmation outcomes, and burn statistics.
package mysql
