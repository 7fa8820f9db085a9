// Package config loads and validates the JSON configuration consumed at
// startup, filling in sensible defaults for anything the operator omits.
package config
