// Package storage persists subscriptions, customers, targets, check history
// and the audit log.
//
// One Store serves both SQLite (modernc.org/sqlite, no cgo) and PostgreSQL
// (github.com/lib/pq). Queries are written with '?' placeholders and rebound
// for the postgres dialect. Schemas are embedded and applied on Open.
package storage
