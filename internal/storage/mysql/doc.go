// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema bootstrap, pooled connections, and strongly typed
// queries for persisting conversation records and token usage.
package mysql
