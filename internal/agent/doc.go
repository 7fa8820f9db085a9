// Package agent contains the core orchestrator responsible for turning a user
// prompt into a finished reply. It assembles conversation context, drives the
// model's tool-calling loop, and persists the outcome of each exchange.
package agent
