// Package mysql provides MySQL-backed persistence for the agent's long term
// memory. It owns the connection pool settings, embedded schema migrations and
// a snippet repository that stores memory entries together with their
// embedding vectors. A JSONL file implementation is included for development
// without a database.
package mysql
